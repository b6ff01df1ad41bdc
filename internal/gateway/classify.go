package gateway

import (
	"context"
	"errors"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
)

// Class tells the retry policy what to do with a failure
type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// Classify sorts a provider error. Caller cancellation is permanent; timeouts,
// rate limits, 5xx responses and network failures are transient. Errors the
// taxonomy does not know are treated as transient so the retry budget bounds them.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Permanent
	case errors.Is(err, context.Canceled):
		return Permanent
	case errors.Is(err, context.DeadlineExceeded):
		return Transient
	}

	var de *domain.DomainError
	if errors.As(err, &de) {
		switch de.Code {
		case domain.ErrCodeTransientExternal, domain.ErrCodeTimeout:
			return Transient
		default:
			return Permanent
		}
	}
	// network errors and anything unclassified
	return Transient
}
