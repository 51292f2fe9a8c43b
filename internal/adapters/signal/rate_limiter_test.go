package signal

import (
	"testing"
	"time"
)

func TestCallRateLimiterCapsWithinWindow(t *testing.T) {
	rl := NewCallRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}
	if rl.Allow("alice") {
		t.Fatal("attempt over the limit should be denied")
	}
}

func TestCallRateLimiterPerUser(t *testing.T) {
	rl := NewCallRateLimiter(1, time.Minute)

	if !rl.Allow("alice") {
		t.Fatal("alice's first attempt should be allowed")
	}
	if !rl.Allow("bob") {
		t.Fatal("bob's budget is independent of alice's")
	}
	if rl.Allow("alice") {
		t.Fatal("alice is over her limit")
	}
}

func TestCallRateLimiterWindowSlides(t *testing.T) {
	rl := NewCallRateLimiter(2, 40*time.Millisecond)

	if !rl.Allow("alice") || !rl.Allow("alice") {
		t.Fatal("first two attempts should be allowed")
	}
	if rl.Allow("alice") {
		t.Fatal("third attempt inside the window should be denied")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("alice") {
		t.Fatal("attempts should be allowed again once the window slides past")
	}
}
