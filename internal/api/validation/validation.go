package validation

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/nkkko/supports/internal/api/errors"
)

// Validator defines the interface for request validation
type Validator interface {
	Validate() error
}

// ParseAndValidate parses a JSON request body and validates it. An empty
// body is accepted when allowEmpty is set, leaving v at its zero value.
func ParseAndValidate(r *http.Request, v Validator, allowEmpty bool) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err == io.EOF {
			if !allowEmpty {
				return errors.ValidationError("empty_request_body", "Request body is empty")
			}
		} else {
			return errors.ValidationError("invalid_json", "Invalid JSON format: "+err.Error())
		}
	}

	return v.Validate()
}

// Required validates that a string is not empty
func Required(field, value string) error {
	if value == "" {
		return errors.ValidationError(
			"required_field_missing",
			field+" is required",
		)
	}
	return nil
}

// MaxLength validates that a string is not longer than maxLen bytes
func MaxLength(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return errors.ValidationError(
			"max_length_exceeded",
			fmt.Sprintf("%s must be at most %d characters", field, maxLen),
		)
	}
	return nil
}

// MaxItems validates that a list holds at most max entries
func MaxItems(field string, count, max int) error {
	if count > max {
		return errors.ValidationError(
			"max_items_exceeded",
			fmt.Sprintf("%s accepts at most %d entries", field, max),
		)
	}
	return nil
}

// names are dotted lowercase identifiers such as keyboard.will_show
var namePattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)*$`)

// MaxNameLength bounds notification and control identifiers
const MaxNameLength = 128

// NotificationName validates a notification name taken from a path or query
func NotificationName(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	if err := MaxLength(field, value, MaxNameLength); err != nil {
		return err
	}
	if !namePattern.MatchString(value) {
		return errors.ValidationError(
			"invalid_name",
			field+" must be dotted lowercase words, like keyboard.will_show",
		)
	}
	return nil
}
