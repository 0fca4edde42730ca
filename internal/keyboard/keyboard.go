// Package keyboard turns keyboard show/hide/change-frame notifications into
// typed callbacks whose registrations live in a bag.
package keyboard

import (
	"context"

	"github.com/nkkko/supports/internal/logging"
	"github.com/nkkko/supports/pkg/bag"
	"github.com/nkkko/supports/pkg/proto"
	"github.com/rs/zerolog"
)

// Event is the name of a keyboard notification
type Event string

const (
	WillShow        Event = "keyboard.will_show"
	WillHide        Event = "keyboard.will_hide"
	WillChangeFrame Event = "keyboard.will_change_frame"
	DidShow         Event = "keyboard.did_show"
	DidHide         Event = "keyboard.did_hide"
	DidChangeFrame  Event = "keyboard.did_change_frame"
)

// Events lists every keyboard event in registration order
func Events() []Event {
	return []Event{WillShow, WillHide, WillChangeFrame, DidShow, DidHide, DidChangeFrame}
}

// ParseEvent resolves an event from its full name or its suffix, so both
// "keyboard.will_show" and "will_show" are accepted
func ParseEvent(s string) (Event, bool) {
	for _, e := range Events() {
		if string(e) == s || string(e) == "keyboard."+s {
			return e, true
		}
	}
	return "", false
}

// Handler holds optional callbacks for each keyboard event. A nil field is
// a no-op and is not registered at all.
type Handler struct {
	WillShow        func(Info)
	WillHide        func(Info)
	WillChangeFrame func(Info)
	DidShow         func(Info)
	DidHide         func(Info)
	DidChangeFrame  func(Info)
}

func (h Handler) callback(e Event) func(Info) {
	switch e {
	case WillShow:
		return h.WillShow
	case WillHide:
		return h.WillHide
	case WillChangeFrame:
		return h.WillChangeFrame
	case DidShow:
		return h.DidShow
	case DidHide:
		return h.DidHide
	case DidChangeFrame:
		return h.DidChangeFrame
	default:
		return nil
	}
}

// Observer receives every keyboard event. Embed Base to implement only the
// methods you need.
type Observer interface {
	KeyboardWillShow(Info)
	KeyboardWillHide(Info)
	KeyboardWillChangeFrame(Info)
	KeyboardDidShow(Info)
	KeyboardDidHide(Info)
	KeyboardDidChangeFrame(Info)
}

// Base implements Observer with no-op methods
type Base struct{}

func (Base) KeyboardWillShow(Info)        {}
func (Base) KeyboardWillHide(Info)        {}
func (Base) KeyboardWillChangeFrame(Info) {}
func (Base) KeyboardDidShow(Info)         {}
func (Base) KeyboardDidHide(Info)         {}
func (Base) KeyboardDidChangeFrame(Info)  {}

// dispatch calls the Observer method matching e
func dispatch(o Observer, e Event, info Info) {
	switch e {
	case WillShow:
		o.KeyboardWillShow(info)
	case WillHide:
		o.KeyboardWillHide(info)
	case WillChangeFrame:
		o.KeyboardWillChangeFrame(info)
	case DidShow:
		o.KeyboardDidShow(info)
	case DidHide:
		o.KeyboardDidHide(info)
	case DidChangeFrame:
		o.KeyboardDidChangeFrame(info)
	}
}

type options struct {
	mode   Mode
	logger zerolog.Logger
}

// Option configures registration
type Option func(*options)

// WithMode sets how payloads are decoded. The default is Lenient.
// In Strict mode a malformed payload panics inside the handler, which the
// notification center recovers and logs.
func WithMode(mode Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithLogger sets the logger used to report malformed payloads
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{
		mode:   Lenient,
		logger: logging.Component("keyboard"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Register observes every keyboard event that has a callback in h and returns
// the bag owning those registrations. ok is false if any registration failed,
// in which case the bag holds the ones that succeeded.
func Register(src bag.Source, h Handler, opts ...Option) (b *bag.Bag, ok bool) {
	o := buildOptions(opts)
	b = bag.New()
	ok = true

	for _, e := range Events() {
		fn := h.callback(e)
		if fn == nil {
			continue
		}
		if !b.Register(string(e), src, o.adapt(e, fn)) {
			o.logger.Warn().Str("event", string(e)).Msg("Keyboard event registration failed")
			ok = false
		}
	}

	return b, ok
}

// RegisterObserver observes all six keyboard events on behalf of obs. The
// source keeps obs alive until the bag is cleared.
func RegisterObserver(src bag.Source, obs Observer, opts ...Option) (*bag.Bag, bool) {
	o := buildOptions(opts)
	b := bag.New()
	ok := true

	for _, e := range Events() {
		e := e
		if !b.Register(string(e), src, o.adapt(e, func(info Info) { dispatch(obs, e, info) })) {
			ok = false
		}
	}

	return b, ok
}

// RegisterWeak observes all six keyboard events for owner without keeping it
// alive. Once owner is garbage collected its callbacks stop firing, even if
// the bag is never cleared.
func RegisterWeak[T any, PT interface {
	*T
	Observer
}](src bag.Source, owner PT, opts ...Option) (*bag.Bag, bool) {
	o := buildOptions(opts)
	b := bag.New()
	ok := true

	for _, e := range Events() {
		e := e
		handler := bag.Weak((*T)(owner), func(t *T, n *proto.Notification) {
			dispatch(PT(t), e, o.decode(e, n))
		})
		if !b.Register(string(e), src, handler) {
			ok = false
		}
	}

	return b, ok
}

// adapt wraps a typed callback into a bag handler that decodes the payload first
func (o options) adapt(e Event, fn func(Info)) bag.Handler {
	return func(n *proto.Notification) {
		fn(o.decode(e, n))
	}
}

func (o options) decode(e Event, n *proto.Notification) Info {
	var payload map[string]any
	if n != nil {
		payload = n.Payload
	}

	if o.mode == Strict {
		return MustDecode(payload, Strict)
	}

	info, _ := Decode(payload, Lenient)
	if info.EndFrame == nil {
		o.logger.Debug().Str("event", string(e)).Msg("Keyboard payload has no end frame")
	}
	return info
}

// Poster posts notifications; *center.Center satisfies it
type Poster interface {
	Post(ctx context.Context, name, object string, payload map[string]any) int
}

// Post publishes a keyboard event carrying info and returns the delivery count
func Post(ctx context.Context, p Poster, e Event, object string, info Info) int {
	return p.Post(ctx, string(e), object, info.Payload())
}
