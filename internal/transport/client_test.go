package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNewClientUsesTimeout(t *testing.T) {
	client := NewClient(45 * time.Second)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	if NewClient(-time.Second).Timeout != 0 {
		t.Fatalf("negative timeout should be cleared")
	}
	if client.Transport == defaultTransport {
		t.Fatalf("client should own a cloned transport")
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)) {
		t.Fatalf("deadline exceeded should count as timeout")
	}
	if IsTimeout(errors.New("connection refused")) {
		t.Fatalf("plain error should not count as timeout")
	}
	if IsTimeout(nil) {
		t.Fatalf("nil is not a timeout")
	}
}

func TestFailureKind(t *testing.T) {
	if got := FailureKind(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)); got != FailureTimeout {
		t.Fatalf("expected %s, got %s", FailureTimeout, got)
	}
	if got := FailureKind(errors.New("dial tcp: connection refused")); got != FailureConnection {
		t.Fatalf("expected %s, got %s", FailureConnection, got)
	}
}
