package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"

	redis "github.com/redis/go-redis/v9"
)

func TestSentinelCategories(t *testing.T) {
	cases := []struct {
		err      error
		category error
	}{
		{ErrNotStarted, ErrValidation},
		{ErrEnded, ErrValidation},
		{ErrVoucherNotFound, ErrValidation},
		{ErrOutOfStock, ErrCapacity},
		{ErrDuplicate, ErrConflict},
		{ErrTimeout, ErrTransient},
		{ErrConnectionClosed, ErrTransient},
		{ErrLockBusy, ErrTransient},
	}
	for _, c := range cases {
		if !stdErrors.Is(c.err, c.category) {
			t.Fatalf("%v should be marked %v", c.err, c.category)
		}
	}
	if stdErrors.Is(ErrOutOfStock, ErrConflict) {
		t.Fatal("out of stock must not be a conflict")
	}
	if stdErrors.Is(ErrEnded, ErrNotStarted) {
		t.Fatal("sentinels of the same category must stay distinct")
	}
	wrapped := Wrap(ErrDuplicate, "admit")
	if !stdErrors.Is(wrapped, ErrDuplicate) || !stdErrors.Is(wrapped, ErrConflict) {
		t.Fatalf("wrapping lost the sentinel: %v", wrapped)
	}
}

func TestTranslate(t *testing.T) {
	if Translate(nil) != nil {
		t.Fatal("nil should stay nil")
	}
	err := Translate(fmt.Errorf("get: %w", context.DeadlineExceeded))
	if !stdErrors.Is(err, ErrTimeout) || !IsRetryable(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	err = Translate(redis.ErrClosed)
	if !stdErrors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected connection closed, got %v", err)
	}
	plain := stdErrors.New("boom")
	if Translate(plain) != plain {
		t.Fatal("unrelated errors must pass through")
	}
}

func TestFatalIsNotRetryable(t *testing.T) {
	err := Fatal(stdErrors.New("bad payload"), "decode entry")
	if !stdErrors.Is(err, ErrFatalPersistence) {
		t.Fatalf("expected fatal mark, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("fatal errors are not retryable")
	}
	if IsRetryable(Fatal(ErrTimeout, "persist")) {
		t.Fatal("fatal mark wins over transient cause")
	}
	if Fatal(nil, "x") != nil {
		t.Fatal("nil should stay nil")
	}
}
