package breaker

import (
	"strings"
	"testing"
	"time"
)

func TestShouldHaltRejectRate(t *testing.T) {
	t.Parallel()
	b := New(Config{MaxRejectRate: 0.30, MaxCancelsPerMin: 10000, MaxErrors: 1000})

	for i := 0; i < 18; i++ {
		b.RecordPlace(true)
	}
	for i := 0; i < 12; i++ {
		b.RecordPlace(false)
	}

	halted, reason := b.ShouldHalt()
	if !halted {
		t.Fatal("expected halt on reject rate")
	}
	if !strings.Contains(reason, "reject_rate") {
		t.Errorf("reason = %q, want it to contain reject_rate", reason)
	}
}

func TestShouldHaltRequiresMinimumPlacements(t *testing.T) {
	t.Parallel()
	b := New(Config{MaxRejectRate: 0.1, MaxCancelsPerMin: 10000, MaxErrors: 1000})
	for i := 0; i < 5; i++ {
		b.RecordPlace(false)
	}
	if halted, _ := b.ShouldHalt(); halted {
		t.Error("should not halt with fewer than 20 placements observed")
	}
}

func TestCancelEventsWindowTrim(t *testing.T) {
	t.Parallel()
	b := New(Config{MaxCancelsPerMin: 1000, MaxErrors: 1000})
	now := time.Now()
	b.nowFn = func() time.Time { return now.Add(-90 * time.Second) }
	b.RecordCancel()
	b.nowFn = func() time.Time { return now }
	b.RecordCancel()

	burst := b.CancelBurst()
	if burst != 1 {
		t.Errorf("CancelBurst() = %d, want 1 (stale event trimmed)", burst)
	}
}

func TestShouldHaltErrors(t *testing.T) {
	t.Parallel()
	b := New(Config{MaxRejectRate: 1, MaxCancelsPerMin: 10000, MaxErrors: 3})
	for i := 0; i < 3; i++ {
		b.RecordError()
	}
	halted, reason := b.ShouldHalt()
	if !halted || !strings.Contains(reason, "errors") {
		t.Errorf("halted=%v reason=%q, want halt on errors", halted, reason)
	}
}

func TestRecordPlaceSkipNotCounted(t *testing.T) {
	t.Parallel()
	b := New(Config{MaxRejectRate: 0.5, MaxCancelsPerMin: 10000, MaxErrors: 1000})
	placed, _, _, _ := b.Snapshot()
	if placed != 0 {
		t.Fatalf("placed = %d, want 0 before any RecordPlace call (SKIP never calls it)", placed)
	}
}
