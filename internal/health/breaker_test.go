package health

import (
	"testing"
	"time"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})
	now := time.Now()

	if s := b.RecordFailure(now); s != StateClosed {
		t.Fatalf("after 1 failure: %v, want closed", s)
	}
	if s := b.RecordFailure(now); s != StateClosed {
		t.Fatalf("after 2 failures: %v, want closed", s)
	}
	if s := b.RecordFailure(now); s != StateOpen {
		t.Fatalf("after 3 failures: %v, want open", s)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})
	now := time.Now()

	b.RecordFailure(now)
	b.RecordFailure(now)
	b.RecordSuccess(now)
	b.RecordFailure(now)
	b.RecordFailure(now)
	if s := b.State(); s != StateClosed {
		t.Fatalf("state = %v, want closed after interleaved success", s)
	}
}

func TestBreaker_HalfOpenAfterCooldownThenCloses(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	start := time.Now()

	b.RecordFailure(start)
	if s := b.State(); s != StateOpen {
		t.Fatalf("state = %v, want open", s)
	}

	// Within cooldown: no probe allowed.
	if b.ShouldProbe(start.Add(30 * time.Second)) {
		t.Fatal("probe allowed before cooldown elapsed")
	}
	if s := b.State(); s != StateOpen {
		t.Fatalf("state = %v, want still open", s)
	}

	// Cooldown elapsed: a probe is allowed and the breaker is half-open.
	if !b.ShouldProbe(start.Add(61 * time.Second)) {
		t.Fatal("probe not allowed after cooldown")
	}
	if s := b.State(); s != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", s)
	}

	if s := b.RecordSuccess(start.Add(62 * time.Second)); s != StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", s)
	}
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	start := time.Now()

	b.RecordFailure(start)
	b.ShouldProbe(start.Add(2 * time.Minute)) // open -> half-open
	if s := b.RecordFailure(start.Add(2 * time.Minute)); s != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", s)
	}
}

func TestBreaker_SuccessStampsLastHealthyAt(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})
	start := time.Now()

	if snap := b.Status(); !snap.LastHealthyAt.IsZero() {
		t.Fatalf("LastHealthyAt = %v before any check, want zero", snap.LastHealthyAt)
	}

	b.RecordSuccess(start)
	snap := b.Status()
	if !snap.LastHealthyAt.Equal(start) {
		t.Fatalf("LastHealthyAt = %v, want %v", snap.LastHealthyAt, start)
	}

	// A later failure keeps the last healthy timestamp.
	b.RecordFailure(start.Add(time.Minute))
	snap = b.Status()
	if !snap.LastHealthyAt.Equal(start) {
		t.Fatalf("LastHealthyAt = %v after failure, want %v", snap.LastHealthyAt, start)
	}
	if snap.LastHealthy {
		t.Fatal("LastHealthy = true after failure")
	}
}

func TestBreakerSet_UnknownServiceIsClosed(t *testing.T) {
	set := NewBreakerSet(DefaultBreakerConfig())
	if s := set.StateFor("never-seen"); s != StateClosed {
		t.Fatalf("state = %v, want closed", s)
	}
	snap := set.StatusFor("never-seen")
	if snap.State != StateClosed || !snap.LastHealthy {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestBreakerSet_ForReturnsSameBreaker(t *testing.T) {
	set := NewBreakerSet(DefaultBreakerConfig())
	a := set.For("svc")
	b := set.For("svc")
	if a != b {
		t.Fatal("expected one breaker per service")
	}
	set.Forget("svc")
	if set.For("svc") == a {
		t.Fatal("expected fresh breaker after Forget")
	}
}
