package models

import (
	"github.com/nkkko/supports/internal/api/validation"
	"github.com/nkkko/supports/pkg/proto"
)

// PostNotificationRequest is the body of POST /notifications/{name}
type PostNotificationRequest struct {
	proto.PostRequest
}

// Validate validates the request
func (r *PostNotificationRequest) Validate() error {
	return validation.MaxLength("object", r.Object, validation.MaxNameLength)
}

// KeyboardRequest is the body of POST /keyboard/{event}. The payload is
// checked against the keyboard info shape before it is posted.
type KeyboardRequest struct {
	Object  string         `json:"object,omitempty"`
	Payload map[string]any `json:"payload"`
}

// Validate validates the request
func (r *KeyboardRequest) Validate() error {
	return validation.MaxLength("object", r.Object, validation.MaxNameLength)
}

// ControlRequest is the body of POST /controls/{id}/{event}
type ControlRequest struct {
	Payload map[string]any `json:"payload,omitempty"`
}

// Validate validates the request
func (r *ControlRequest) Validate() error {
	return nil
}
