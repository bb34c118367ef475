package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe("send_to_first_fragment", 500)
	w.Observe("send_to_first_fragment", 700)
	w.Observe("send_to_first_fragment", 900)
	w.Observe("", 10)
	w.Observe("send_total", -1)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 || s.MaxMS != 900 {
		t.Fatalf("LastMS/MaxMS = %.2f/%.2f, want 900", s.LastMS, s.MaxMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1500 {
		t.Fatalf("TargetP95MS = %.2f, want 1500", s.TargetP95MS)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(4)
	for i := 1; i <= 6; i++ {
		w.Observe("send_total", float64(i*100))
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", s.Samples)
	}
	if s.AvgMS != 450 {
		t.Fatalf("AvgMS = %.2f, want 450 (samples 300..600)", s.AvgMS)
	}

	w.Reset()
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) after Reset = %d, want 0", got)
	}
}

func TestMetricsObserveFirstFragmentFeedsWindow(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("test_obs_%d", time.Now().UnixNano()))
	m.ObserveFirstFragmentLatency(250 * time.Millisecond)

	snap := m.StageSnapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != "send_to_first_fragment" {
		t.Fatalf("StageSnapshot() = %+v", snap)
	}
	if snap.Stages[0].LastMS != 250 {
		t.Fatalf("LastMS = %.2f, want 250", snap.Stages[0].LastMS)
	}
}
