package generation

import (
	"errors"
	"fmt"

	"github.com/lamim/classforge/internal/api"
)

// Error kinds. Match with errors.Is.
var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrContentBlocked      = errors.New("content blocked")
	ErrProviderError       = errors.New("provider error")
)

const (
	blockedResponseMessage = "Content generation failed: Response blocked due to safety settings."
	blockedPromptFormat    = "Content generation failed: Prompt blocked (reason: %s)"
)

// Error is a classified generation failure. Message is shown to the user
// verbatim.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error kind sentinel
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func unavailable(format string, args ...any) *Error {
	return &Error{Kind: ErrProviderUnavailable, Message: fmt.Sprintf("Provider unavailable: "+format, args...)}
}

func blockedResponse() *Error {
	return &Error{Kind: ErrContentBlocked, Message: blockedResponseMessage}
}

// classify maps a transport failure onto an error kind
func classify(err error) *Error {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsContentPolicy() {
			reason := apiErr.Code
			if reason == "" {
				reason = apiErr.Type
			}
			return &Error{Kind: ErrContentBlocked, Message: fmt.Sprintf(blockedPromptFormat, reason), Err: err}
		}
		return &Error{Kind: ErrProviderError, Message: "Content generation failed: " + apiErr.Message, Err: err}
	}

	return &Error{Kind: ErrProviderError, Message: "Content generation failed: " + err.Error(), Err: err}
}

// kindLabel is the metrics and log label for a failure kind
func kindLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrContentBlocked):
		return "blocked"
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
