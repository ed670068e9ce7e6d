package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", Trip: 3})
	boom := errors.New("boom")
	fail := func() error { return boom }

	for i := 0; i < 3; i++ {
		if err := b.Do(fail); !errors.Is(err, boom) {
			t.Fatalf("call %d: got %v, want boom", i, err)
		}
	}
	if !b.Open() {
		t.Fatal("breaker still closed after trip failures")
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("open breaker: got %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn was called while breaker open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Trip: 2})
	boom := errors.New("boom")

	b.Do(func() error { return boom })
	b.Do(func() error { return nil })
	b.Do(func() error { return boom })

	if b.Open() {
		t.Error("breaker opened although failures were not consecutive")
	}
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := NewBreaker(BreakerConfig{Trip: 1, Cooldown: time.Minute})
	b.now = func() time.Time { return now }

	boom := errors.New("boom")
	b.Do(func() error { return boom })
	if !b.Open() {
		t.Fatal("breaker did not open")
	}

	// Cooldown elapses; a failing probe keeps the breaker open.
	now = now.Add(2 * time.Minute)
	if err := b.Do(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("probe: got %v, want boom", err)
	}
	if !b.Open() {
		t.Error("breaker closed after failed probe")
	}

	// Next cooldown; a successful probe closes it.
	now = now.Add(2 * time.Minute)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe: got %v, want nil", err)
	}
	if b.Open() {
		t.Error("breaker still open after successful probe")
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Trip: 1})
	b.Do(func() error { return errors.New("boom") })
	if !b.Open() {
		t.Fatal("breaker did not open")
	}

	b.Reset()
	if b.Open() {
		t.Error("breaker still open after Reset")
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Errorf("call after Reset: got %v, want nil", err)
	}
}
