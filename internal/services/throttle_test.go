package services

import (
	"context"
	"testing"
	"time"
)

func TestThrottle_DisabledAndNil(t *testing.T) {
	var nilThrottle *Throttle
	if err := nilThrottle.Wait(context.Background()); err != nil {
		t.Errorf("Nil throttle should never block, got %v", err)
	}

	disabled := NewThrottle(0)
	for i := 0; i < 100; i++ {
		if err := disabled.Wait(context.Background()); err != nil {
			t.Fatalf("Disabled throttle returned %v", err)
		}
	}
}

func TestThrottle_BurstThenWait(t *testing.T) {
	throttle := NewThrottle(1)

	// Burst of two passes immediately
	for i := 0; i < 2; i++ {
		if err := throttle.Wait(context.Background()); err != nil {
			t.Fatalf("Burst call %d failed: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := throttle.Wait(ctx); err == nil {
		t.Error("Expected third call to exceed the deadline")
	}
}
