package keyboard

import (
	"fmt"
	"time"

	"github.com/nkkko/supports/pkg/proto"
)

// Payload keys carried by keyboard notifications
const (
	KeyAnimationCurve    = "animation_curve"
	KeyAnimationDuration = "animation_duration"
	KeyIsLocal           = "is_local"
	KeyFrameBegin        = "frame_begin"
	KeyFrameEnd          = "frame_end"
)

// Curve is the animation curve the keyboard uses while moving
type Curve int

const (
	CurveEaseInOut Curve = iota
	CurveEaseIn
	CurveEaseOut
	CurveLinear
)

func (c Curve) String() string {
	switch c {
	case CurveEaseInOut:
		return "ease_in_out"
	case CurveEaseIn:
		return "ease_in"
	case CurveEaseOut:
		return "ease_out"
	case CurveLinear:
		return "linear"
	default:
		return fmt.Sprintf("curve(%d)", int(c))
	}
}

// Mode selects how Decode treats missing or wrongly shaped fields
type Mode int

const (
	// Lenient leaves bad fields nil and keeps going
	Lenient Mode = iota

	// Strict stops at the first bad field and reports it
	Strict
)

// MalformedPayloadError names the field of a keyboard payload that could not be decoded
type MalformedPayloadError struct {
	Field  string
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("keyboard: malformed payload field %q: %s", e.Field, e.Reason)
}

// Info is the typed form of a keyboard notification payload. A nil field
// was absent or could not be decoded.
type Info struct {
	AnimationCurve    *Curve
	AnimationDuration *float64
	IsLocal           *bool
	BeginFrame        *proto.Rect
	EndFrame          *proto.Rect
}

// Duration returns the animation duration, or zero when unknown
func (i Info) Duration() time.Duration {
	if i.AnimationDuration == nil {
		return 0
	}
	return time.Duration(*i.AnimationDuration * float64(time.Second))
}

// Overlap returns how far the keyboard's end frame covers the bottom of view,
// which is the inset a scroll view needs to keep content visible.
func (i Info) Overlap(view proto.Rect) float64 {
	if i.EndFrame == nil || i.EndFrame.IsEmpty() {
		return 0
	}
	overlap := view.MaxY() - i.EndFrame.Origin.Y
	if overlap < 0 {
		return 0
	}
	if overlap > view.Size.Height {
		return view.Size.Height
	}
	return overlap
}

// Payload converts info back into notification payload form
func (i Info) Payload() map[string]any {
	payload := make(map[string]any, 5)
	if i.AnimationCurve != nil {
		payload[KeyAnimationCurve] = int(*i.AnimationCurve)
	}
	if i.AnimationDuration != nil {
		payload[KeyAnimationDuration] = *i.AnimationDuration
	}
	if i.IsLocal != nil {
		payload[KeyIsLocal] = *i.IsLocal
	}
	if i.BeginFrame != nil {
		payload[KeyFrameBegin] = *i.BeginFrame
	}
	if i.EndFrame != nil {
		payload[KeyFrameEnd] = *i.EndFrame
	}
	return payload
}

// Decode builds an Info from a notification payload. In Strict mode the first
// missing or malformed field is returned as a *MalformedPayloadError; in
// Lenient mode those fields stay nil and the error is always nil.
//
// A curve value outside the known range decodes to a nil curve in both modes.
func Decode(payload map[string]any, mode Mode) (Info, error) {
	var info Info
	var firstErr error

	fail := func(field, reason string) bool {
		if mode == Strict && firstErr == nil {
			firstErr = &MalformedPayloadError{Field: field, Reason: reason}
		}
		return mode == Strict
	}

	if raw, ok := payload[KeyAnimationCurve]; !ok {
		if fail(KeyAnimationCurve, "missing") {
			return info, firstErr
		}
	} else if n, ok := toFloat(raw); !ok {
		if fail(KeyAnimationCurve, fmt.Sprintf("want number, got %T", raw)) {
			return info, firstErr
		}
	} else if c := Curve(n); n == float64(int(n)) && c >= CurveEaseInOut && c <= CurveLinear {
		info.AnimationCurve = &c
	}

	if raw, ok := payload[KeyAnimationDuration]; !ok {
		if fail(KeyAnimationDuration, "missing") {
			return info, firstErr
		}
	} else if d, ok := toFloat(raw); !ok || d < 0 {
		if fail(KeyAnimationDuration, fmt.Sprintf("want non-negative number, got %v", raw)) {
			return info, firstErr
		}
	} else {
		info.AnimationDuration = &d
	}

	if raw, ok := payload[KeyIsLocal]; !ok {
		if fail(KeyIsLocal, "missing") {
			return info, firstErr
		}
	} else if b, ok := toBool(raw); !ok {
		if fail(KeyIsLocal, fmt.Sprintf("want bool, got %T", raw)) {
			return info, firstErr
		}
	} else {
		info.IsLocal = &b
	}

	for _, key := range []string{KeyFrameBegin, KeyFrameEnd} {
		raw, ok := payload[key]
		if !ok {
			if fail(key, "missing") {
				return info, firstErr
			}
			continue
		}
		r, ok := toRect(raw)
		if !ok {
			if fail(key, fmt.Sprintf("want rect, got %T", raw)) {
				return info, firstErr
			}
			continue
		}
		if key == KeyFrameBegin {
			info.BeginFrame = &r
		} else {
			info.EndFrame = &r
		}
	}

	return info, nil
}

// MustDecode is Decode that panics on a malformed payload in Strict mode.
// Use it where a bad payload is a programming error, such as development builds.
func MustDecode(payload map[string]any, mode Mode) Info {
	info, err := Decode(payload, mode)
	if err != nil {
		panic(err)
	}
	return info
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// toBool accepts booleans and the 0/1 numbers some platforms send for flags
func toBool(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	if n, ok := toFloat(v); ok && (n == 0 || n == 1) {
		return n == 1, true
	}
	return false, false
}

// toRect accepts a proto.Rect, a pointer to one, or the map form produced by
// decoding a Rect from JSON
func toRect(v any) (proto.Rect, bool) {
	switch r := v.(type) {
	case proto.Rect:
		return r, true
	case *proto.Rect:
		if r == nil {
			return proto.Rect{}, false
		}
		return *r, true
	case map[string]any:
		origin, ok1 := r["origin"].(map[string]any)
		size, ok2 := r["size"].(map[string]any)
		if !ok1 || !ok2 {
			return proto.Rect{}, false
		}
		x, okX := toFloat(origin["x"])
		y, okY := toFloat(origin["y"])
		w, okW := toFloat(size["width"])
		h, okH := toFloat(size["height"])
		if !okX || !okY || !okW || !okH {
			return proto.Rect{}, false
		}
		return proto.NewRect(x, y, w, h), true
	default:
		return proto.Rect{}, false
	}
}
