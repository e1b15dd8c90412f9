package pressure

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const gb = uint64(1 << 30)

func newTest(budget uint64) *Manager {
	return NewWithBudget(budget, zerolog.Nop())
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	m := newTest(10 * gb)
	if !m.Register("x", gb) {
		t.Fatalf("expected first register to succeed")
	}
	if m.Register("x", 2*gb) {
		t.Fatalf("expected duplicate register to be rejected")
	}
	if got := m.TotalBytes(); got != gb {
		t.Fatalf("duplicate register mutated record: total=%d", got)
	}
}

func TestUnregisterReportsExistence(t *testing.T) {
	m := newTest(10 * gb)
	m.Register("x", gb)
	if !m.Unregister("x") {
		t.Fatalf("expected unregister of tracked model to report true")
	}
	if m.Unregister("x") {
		t.Fatalf("expected second unregister to report false")
	}
	if m.TotalBytes() != 0 {
		t.Fatalf("expected zero usage after unregister")
	}
}

func TestTouchUntrackedIsNoop(t *testing.T) {
	m := newTest(10 * gb)
	m.Touch("ghost")
	if st := m.Stats(); st.TotalModels != 0 {
		t.Fatalf("touch must not create records")
	}
}

func TestCheckPressureBelowBudget(t *testing.T) {
	m := newTest(10 * gb)
	m.Register("x", 4*gb)
	over, rec := m.CheckPressure()
	if over || rec != nil {
		t.Fatalf("expected (false, nil), got (%v, %v)", over, rec)
	}
}

func TestCheckPressurePrefersIdleRarelyUsed(t *testing.T) {
	// budget=10GB; X (6GB, idle 500s, accessed once) and Y (6GB, idle 10s,
	// accessed 50 times). X's urgency 500/2=250 beats Y's 10/51, and evicting
	// X alone brings usage to 6GB <= budget.
	m := newTest(10 * gb)
	base := time.Now()
	m.now = func() time.Time { return base }
	m.Register("X", 6*gb)
	m.Register("Y", 6*gb)
	// X last used 500s before the check, accessed once.
	m.now = func() time.Time { return base.Add(500 * time.Second) }
	m.Touch("X")
	// Y last used 10s before the check, accessed 50 times.
	m.now = func() time.Time { return base.Add(990 * time.Second) }
	for i := 0; i < 50; i++ {
		m.Touch("Y")
	}
	m.now = func() time.Time { return base.Add(1000 * time.Second) }

	over, rec := m.CheckPressure()
	if !over {
		t.Fatalf("expected pressure with 12GB over a 10GB budget")
	}
	if len(rec) != 1 || rec[0] != "X" {
		t.Fatalf("expected [X], got %v", rec)
	}
}

func TestCheckPressureRecommendationCoversExcess(t *testing.T) {
	m := newTest(5 * gb)
	base := time.Now()
	m.now = func() time.Time { return base }
	m.Register("a", 3*gb)
	m.Register("b", 3*gb)
	m.Register("c", 3*gb)
	m.now = func() time.Time { return base.Add(time.Minute) }

	over, rec := m.CheckPressure()
	if !over {
		t.Fatalf("expected pressure")
	}
	if len(rec) == 0 {
		t.Fatalf("a non-empty recommendation is required while models are loaded")
	}
	var freed uint64
	for range rec {
		freed += 3 * gb
	}
	if remaining := 9*gb - freed; remaining > 5*gb {
		t.Fatalf("recommendation does not bring usage under budget: remaining=%d", remaining)
	}
}

func TestSetBudgetOverride(t *testing.T) {
	m := newTest(10 * gb)
	m.Register("x", 6*gb)
	if over, _ := m.CheckPressure(); over {
		t.Fatalf("expected no pressure before override")
	}
	m.SetBudget(4 * gb)
	over, rec := m.CheckPressure()
	if !over || len(rec) != 1 {
		t.Fatalf("expected pressure after lowering budget, got (%v, %v)", over, rec)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{512, "512 B"},
		{2048, "2.00 KB"},
		{6 * gb, "6.00 GB"},
	}
	for _, tc := range cases {
		if got := FormatBytes(tc.in); got != tc.want {
			t.Fatalf("FormatBytes(%d)=%q want %q", tc.in, got, tc.want)
		}
	}
}
