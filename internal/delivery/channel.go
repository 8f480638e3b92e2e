// Package delivery defines the delivery channel used to send reminder notifications
// and its implementations.
package delivery

import (
	"context"
	"errors"
)

// Channel sends a message to a recipient.
type Channel interface {
	Send(ctx context.Context, recipient, message string) (*Result, error)
}

// Result describes an accepted delivery.
type Result struct {
	MessageID string
}

// Kind classifies a delivery failure.
type Kind int

const (
	// KindTransient failures may succeed when retried.
	KindTransient Kind = iota
	// KindPermanent failures will not succeed when retried.
	KindPermanent
)

// Error is a classified delivery failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindPermanent {
		return "permanent delivery failure: " + e.Err.Error()
	}

	return "transient delivery failure: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient marks err as retriable.
func Transient(err error) error {
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent marks err as not retriable.
func Permanent(err error) error {
	return &Error{Kind: KindPermanent, Err: err}
}

// IsPermanent reports whether err was marked permanent. Unclassified errors are transient.
func IsPermanent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindPermanent
}
