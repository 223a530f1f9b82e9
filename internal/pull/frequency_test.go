package pull

import (
	"testing"
	"time"
)

func TestFrequency_Backoff(t *testing.T) {
	f := NewFrequency(time.Second, 8*time.Second)
	const mpc = "urn:mpc:test"
	now := time.Now()

	if got := f.Interval(mpc); got != time.Second {
		t.Errorf("expected base interval, got %v", got)
	}

	f.Error(mpc, now)
	if got := f.Interval(mpc); got != 2*time.Second {
		t.Errorf("expected doubled interval, got %v", got)
	}

	f.Error(mpc, now)
	f.Error(mpc, now)
	f.Error(mpc, now)
	// 1s doubled four times would be 16s; the ceiling caps it.
	if got := f.Interval(mpc); got != 8*time.Second {
		t.Errorf("expected capped interval, got %v", got)
	}

	f.Success(mpc)
	if got := f.Interval(mpc); got != time.Second {
		t.Errorf("expected base interval after success, got %v", got)
	}
}

func TestFrequency_ShouldPull(t *testing.T) {
	f := NewFrequency(time.Second, time.Minute)
	const mpc = "urn:mpc:test"
	now := time.Now()

	if !f.ShouldPull(mpc, now) {
		t.Error("a channel without failures should always be pullable")
	}

	f.Error(mpc, now)
	if f.ShouldPull(mpc, now) {
		t.Error("backoff window should suppress the pull")
	}
	// One failure doubles the base, so the window closes at now+2s.
	if f.ShouldPull(mpc, now.Add(time.Second)) {
		t.Error("pull resumed inside the window")
	}
	if !f.ShouldPull(mpc, now.Add(2*time.Second)) {
		t.Error("pull should resume after the window")
	}

	// Backoff on one channel leaves others alone.
	if !f.ShouldPull("urn:mpc:other", now) {
		t.Error("unrelated channel throttled")
	}
}

func TestFrequency_Defaults(t *testing.T) {
	f := NewFrequency(0, 0)
	if f.base <= 0 {
		t.Error("expected positive base")
	}
	if f.max < f.base {
		t.Error("expected ceiling >= base")
	}
}
