package apperror

import "errors"

// Body is the JSON shape of every error response.
type Body struct {
	Type     string   `json:"type"`
	Messages []string `json:"messages"`
}

// Normalize maps any error to its client-facing body. Errors outside the
// closed set never leak their text; they become TypeUnknown.
func Normalize(err error) Body {
	var appErr *AppError
	if err == nil || !errors.As(err, &appErr) {
		return Body{Type: TypeUnknown, Messages: []string{UnknownMessage}}
	}

	messages := appErr.Messages
	if len(messages) == 0 {
		messages = []string{appErr.Err.Error()}
	}

	return Body{Type: TypeOf(err), Messages: messages}
}

// TypeOf returns the type name for err's kind.
func TypeOf(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return TypeValidation
	case errors.Is(err, ErrDuplicate):
		return TypeDuplicate
	case errors.Is(err, ErrNotFound):
		return TypeNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden):
		return TypeAuth
	case errors.Is(err, ErrConflict):
		return TypeConflict
	default:
		return TypeUnknown
	}
}
