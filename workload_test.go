package glitch

import (
	"testing"
	"time"
)

func TestCronWorkloadDue(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w, err := NewCronWorkload("*/2 * * * * *", start)
	if err != nil {
		t.Fatalf("NewCronWorkload: %v", err)
	}

	if due := w.Due(start); due != 0 {
		t.Fatalf("nothing should be due at the start, got %d", due)
	}
	if due := w.Due(start.Add(5 * time.Second)); due != 2 {
		t.Fatalf("expected 2 due points at +5s (2s, 4s), got %d", due)
	}
	if due := w.Due(start.Add(10 * time.Second)); due != 3 {
		t.Fatalf("expected 3 due points at +10s (6s, 8s, 10s), got %d", due)
	}
	// The cursor only moves forward.
	if due := w.Due(start.Add(10 * time.Second)); due != 0 {
		t.Fatalf("re-asking at the same instant should be 0, got %d", due)
	}
}

func TestCronWorkloadIsDeterministic(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	counts := func() []int {
		w, err := NewCronWorkload("@every 3s", start)
		if err != nil {
			t.Fatalf("NewCronWorkload: %v", err)
		}
		var out []int
		for step := time.Second; step <= 20*time.Second; step += time.Second {
			out = append(out, w.Due(start.Add(step)))
		}
		return out
	}
	a, b := counts(), counts()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("cron schedule diverged at step %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestCronWorkloadRejectsBadExpression(t *testing.T) {
	if _, err := NewCronWorkload("not a schedule", time.Unix(0, 0)); err == nil {
		t.Fatal("expected a parse error")
	}
}
