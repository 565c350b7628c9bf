package safego

import (
	"testing"
	"time"
)

func TestGoRunsFunction(t *testing.T) {
	done := make(chan struct{})

	Go(func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("goroutine did not complete within timeout")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	done := make(chan struct{})

	// The panic must be recovered instead of crashing the test process.
	Go(func() {
		defer close(done)
		panic("intentional panic in test")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("goroutine did not complete within timeout after panic")
	}
}
