package model

import "errors"

// Error kinds reported in the envelope. Every failure path wraps exactly one
// of them.
var (
	ErrValidation = errors.New("validation error")
	ErrDecode     = errors.New("decode error")
	ErrStorage    = errors.New("storage error")
	ErrTransform  = errors.New("transform error")
)

// KindOf returns a short name for the error kind wrapped by err,
// or "internal" when err wraps none of the known kinds.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrTransform):
		return "transform"
	default:
		return "internal"
	}
}
