package api

import (
	"errors"
	"fmt"
)

// Kind classifies a failed API call so callers can react per class without
// parsing message text.
type Kind string

const (
	KindTransport  Kind = "transport"  // network unreachable or unparseable response
	KindValidation Kind = "validation" // structured success:false, 400-class
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict" // slot no longer available at submit time
	KindAuth       Kind = "auth"     // 401/403
)

// Error is the structured failure of a portal API call. Message carries the
// server-provided text verbatim when one was available.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("portal api: %s failure (status %d)", e.Kind, e.Status)
}

func kindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransport
}

func IsConflict(err error) bool   { return kindOf(err) == KindConflict }
func IsNotFound(err error) bool   { return kindOf(err) == KindNotFound }
func IsValidation(err error) bool { return kindOf(err) == KindValidation }
func IsAuth(err error) bool       { return kindOf(err) == KindAuth }

// UserMessage converts any API failure into user-facing text: validation and
// conflict messages pass through verbatim, everything else gets a generic
// fallback.
func UserMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		switch apiErr.Kind {
		case KindValidation, KindConflict, KindNotFound:
			return apiErr.Message
		}
	}
	return "Something went wrong. Please try again."
}
