package redisclient

import (
	"context"
	"errors"
	"testing"
)

func TestLocalWindowLockerContention(t *testing.T) {
	locker := NewLocalWindowLocker()
	ctx := context.Background()
	provider := int64(9)

	err := locker.WithWindowLock(ctx, 3, &provider, "2025-06-16", func(ctx context.Context) error {
		// Same window while held: not acquired.
		inner := locker.WithWindowLock(ctx, 3, &provider, "2025-06-16", func(context.Context) error {
			t.Error("nested acquisition ran")
			return nil
		})
		if !errors.Is(inner, ErrLockNotAcquired) {
			t.Errorf("inner err = %v, want ErrLockNotAcquired", inner)
		}

		// A different window is independent.
		other := locker.WithWindowLock(ctx, 3, &provider, "2025-06-17", func(context.Context) error {
			return nil
		})
		if other != nil {
			t.Errorf("other-window err = %v", other)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithWindowLock: %v", err)
	}

	// Released after fn returns.
	if err := locker.WithWindowLock(ctx, 3, &provider, "2025-06-16", func(context.Context) error {
		return nil
	}); err != nil {
		t.Errorf("reacquire after release: %v", err)
	}
}

func TestWindowKeyDistinguishesProviders(t *testing.T) {
	a := int64(1)
	b := int64(2)
	if windowKey(3, &a, "2025-06-16") == windowKey(3, &b, "2025-06-16") {
		t.Error("provider windows collide")
	}
	if windowKey(3, nil, "2025-06-16") == windowKey(3, &a, "2025-06-16") {
		t.Error("unassigned-provider window collides with provider 1")
	}
}

func TestLockerPropagatesCallbackError(t *testing.T) {
	locker := NewLocalWindowLocker()
	want := errors.New("boom")
	got := locker.WithWindowLock(context.Background(), 3, nil, "2025-06-16", func(context.Context) error {
		return want
	})
	if !errors.Is(got, want) {
		t.Errorf("err = %v, want callback error", got)
	}
}
