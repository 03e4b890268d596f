package chat

import (
	"errors"
	"fmt"
)

// Every error returned by Service wraps exactly one of these.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrUpstream     = errors.New("upstream failure")
)

// Kind names the error class of err, or "internal" if it carries none.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrUpstream):
		return "upstream_failure"
	default:
		return "internal"
	}
}

func validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

func forbidden(msg string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, msg)
}

// upstream keeps the cause text but not its chain, so errors.Is only ever
// matches ErrUpstream.
func upstream(step string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstream, step, err)
}
