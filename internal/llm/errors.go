package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoProvider    = errors.New("llm: no provider configured")
	ErrEmptyResponse = errors.New("llm: empty response")
)

type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// Error tags a generation failure as worth retrying or not.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Err: err}
}

var transientMarkers = []string{
	"timeout", "timed out", "deadline exceeded",
	"rate limit", "rate_limit", "too many requests", "429",
	"overloaded", "529", "500", "502", "503", "504",
	"connection reset", "connection refused", "eof", "temporarily unavailable",
}

// IsRetryable reports whether err is a transient remote failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Classify wraps a raw provider error with its retry kind.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if IsRetryable(err) {
		return Transient(err)
	}
	return Permanent(err)
}
