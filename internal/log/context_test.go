package log

import (
	"context"
	"testing"
)

func TestFromContext_Empty(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil {
		t.Fatal("FromContext returned nil")
	}
	// must be usable without panicking
	l.Info(context.Background(), "into the void")
}

func TestWithContext_RoundTrip(t *testing.T) {
	lg := Nop().With("component", "test")
	ctx := WithContext(context.Background(), lg)
	if got := FromContext(ctx); got != lg {
		t.Errorf("FromContext = %v, want stored logger", got)
	}
}

func TestNop_IsSafe(t *testing.T) {
	l := Nop()
	l.Debug(context.Background(), "a")
	l.Info(context.Background(), "b")
	l.Warn(context.Background(), "c")
	l.Error(context.Background(), nil, "d")
	if err := l.Sync(); err != nil {
		t.Errorf("Sync: %v", err)
	}
	if l.With("k", "v") == nil {
		t.Error("With returned nil")
	}
}
