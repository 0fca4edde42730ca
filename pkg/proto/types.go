package proto

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// Notification is a single named event delivered to observers
type Notification struct {
	Name     string                 `json:"name"`
	Object   string                 `json:"object,omitempty"`
	Payload  map[string]any         `json:"payload,omitempty"`
	PostedAt *timestamppb.Timestamp `json:"posted_at,omitempty"`
}

// NewNotification creates a notification stamped with the current time
func NewNotification(name, object string, payload map[string]any) *Notification {
	return &Notification{
		Name:     name,
		Object:   object,
		Payload:  payload,
		PostedAt: timestamppb.New(time.Now()),
	}
}

// Value returns the payload entry for key
func (n *Notification) Value(key string) (any, bool) {
	if n == nil || n.Payload == nil {
		return nil, false
	}
	v, ok := n.Payload[key]
	return v, ok
}

// Point is a location in screen coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width and height pair
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect describes a frame: an origin and a size
type Rect struct {
	Origin Point `json:"origin"`
	Size   Size  `json:"size"`
}

// NewRect is shorthand for building a Rect from its four components
func NewRect(x, y, width, height float64) Rect {
	return Rect{Origin: Point{X: x, Y: y}, Size: Size{Width: width, Height: height}}
}

// MaxY returns the bottom edge of the rectangle
func (r Rect) MaxY() float64 {
	return r.Origin.Y + r.Size.Height
}

// IsEmpty reports whether the rectangle has no area
func (r Rect) IsEmpty() bool {
	return r.Size.Width <= 0 || r.Size.Height <= 0
}

func (r Rect) String() string {
	return fmt.Sprintf("{{%g, %g}, {%g, %g}}", r.Origin.X, r.Origin.Y, r.Size.Width, r.Size.Height)
}

// PostRequest is the body of a request posting a notification
type PostRequest struct {
	Object  string         `json:"object,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// PostResponse reports how many observers received a posted notification
type PostResponse struct {
	Name      string `json:"name"`
	Delivered int    `json:"delivered"`
}

// ObserversResponse lists the observer count per notification name
type ObserversResponse struct {
	Observers map[string]int `json:"observers"`
	Total     int            `json:"total"`
}

// Stream message types
const (
	StreamSubscribed   = "subscribed"
	StreamNotification = "notification"
)

// StreamMessage is a single frame sent to a stream client. The first frame
// on a connection is StreamSubscribed, sent once every observer is registered.
type StreamMessage struct {
	Type         string        `json:"type"`
	Names        []string      `json:"names,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// Error wraps an error message for consistent error handling
type Error struct {
	Message string
}

// NewError creates a new Error
func NewError(msg string) error {
	return &Error{Message: msg}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("supports: %s", e.Message)
}
