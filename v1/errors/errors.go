// Package errors defines the error taxonomy shared by the seckill packages.
//
// Every sentinel belongs to exactly one category, so callers can branch on
// the category (errors.Is(err, ErrTransient)) or on the precise reason
// (errors.Is(err, ErrOutOfStock)) with the standard library.
package errors

import (
	"context"
	stdErrors "errors"
	"fmt"

	cr "github.com/cockroachdb/errors"
	redis "github.com/redis/go-redis/v9"
)

// Categories.
var (
	ErrValidation       = cr.New("validation error")
	ErrCapacity         = cr.New("capacity error")
	ErrConflict         = cr.New("conflict error")
	ErrTransient        = cr.New("transient store error")
	ErrFatalPersistence = cr.New("fatal persistence error")
)

var (
	ErrTimeout          = newKind("timeout", ErrTransient)
	ErrConnectionClosed = newKind("connection closed", ErrTransient)
	ErrLockBusy         = newKind("lock busy", ErrTransient)

	ErrNotStarted      = newKind("seckill not started", ErrValidation)
	ErrEnded           = newKind("seckill ended", ErrValidation)
	ErrVoucherNotFound = newKind("voucher not found", ErrValidation)
	ErrOutOfStock      = newKind("out of stock", ErrCapacity)
	ErrDuplicate       = newKind("duplicate order", ErrConflict)

	// ErrNotFound is returned by the cache when neither the store nor the
	// loader know the requested id.
	ErrNotFound = newKind("not found", nil)
)

type kind struct {
	msg      string
	category error
}

func newKind(msg string, category error) error {
	return &kind{msg: msg, category: category}
}

func (k *kind) Error() string { return k.msg }

func (k *kind) Is(target error) bool {
	return k.category != nil && target == k.category
}

type fatalError struct {
	cause error
}

func (f *fatalError) Error() string { return f.cause.Error() }
func (f *fatalError) Unwrap() error { return f.cause }

func (f *fatalError) Is(target error) bool {
	return target == ErrFatalPersistence
}

// Translate maps low level client and context errors onto the transient
// sentinels. Other errors are returned unchanged.
func Translate(err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, ErrTransient):
		return err
	case stdErrors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case stdErrors.Is(err, redis.ErrClosed):
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return err
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	if stdErrors.Is(err, ErrFatalPersistence) {
		return false
	}
	return stdErrors.Is(err, ErrTransient)
}

// Fatal marks err as a persistence failure that must not be retried.
func Fatal(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &fatalError{cause: cr.Wrap(err, msg)}
}

// Wrap annotates err with msg and a stack trace.
func Wrap(err error, msg string) error {
	return cr.Wrap(err, msg)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	return cr.Wrapf(err, format, args...)
}
