package grip

import (
	"testing"
	"time"
)

func testTuning() Tuning {
	return Tuning{
		FullyOpen:   180,
		FullyClosed: 0,

		ReactionCooldown: 74 * time.Millisecond,
		BackoffDelay:     2 * time.Second,
		BackoffInterval:  time.Second,

		CurrentThresholdMA:  8.0,
		MagnitudeThreshold:  5.0,
		MagnitudeDropMargin: 1.0,

		GraspingStep:     2,
		OpeningStep:      5,
		BackoffStep:      0,
		MaxReactionSteps: 5,
		SlipThreshold:    250,
		SlipIgnoreCycles: 256,
	}
}

var t0 = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func TestOpenToGraspingOnIntent(t *testing.T) {
	m := New(testTuning())
	m.Process(t0, Inputs{Buttons: Buttons{Grasp: true}})
	if m.State() != Grasping {
		t.Errorf("state = %v, want GRASPING", m.State())
	}
}

func TestOpenIgnoresOtherInputs(t *testing.T) {
	m := New(testTuning())
	m.Process(t0, Inputs{Buttons: Buttons{Open: true}, CurrentMA: 50, Magnitude: 50, SlipFresh: true, SlipFlag: true})
	if m.State() != Open {
		t.Errorf("state = %v, want OPEN", m.State())
	}
	if m.Position() != 180 {
		t.Errorf("position = %d, want 180", m.Position())
	}
}

func TestGraspingStepsOnCooldown(t *testing.T) {
	m := New(testTuning())
	m.Process(t0, Inputs{Buttons: Buttons{Grasp: true}})

	// First cycle after entry: cooldown elapsed relative to zero timer.
	fx := m.Process(t0.Add(time.Millisecond), Inputs{})
	if m.Position() != 178 {
		t.Fatalf("position = %d after first grasp step, want 178", m.Position())
	}
	if fx.IgnoreSlipCycles != 256 {
		t.Errorf("movement must request slip ignore, got %d", fx.IgnoreSlipCycles)
	}

	// Inside the cooldown window nothing moves.
	m.Process(t0.Add(50*time.Millisecond), Inputs{})
	if m.Position() != 178 {
		t.Errorf("position = %d inside cooldown, want 178", m.Position())
	}

	// Past the cooldown, another step.
	m.Process(t0.Add(100*time.Millisecond), Inputs{})
	if m.Position() != 176 {
		t.Errorf("position = %d after cooldown, want 176", m.Position())
	}
}

func TestGraspingClampsAtFullyClosed(t *testing.T) {
	m := New(testTuning())
	m.Process(t0, Inputs{Buttons: Buttons{Grasp: true}})

	now := t0
	for i := 0; i < 500; i++ {
		now = now.Add(80 * time.Millisecond)
		m.Process(now, Inputs{})
		if m.Position() < 0 {
			t.Fatalf("position %d below fully-closed", m.Position())
		}
	}
	if m.Position() != 0 {
		t.Errorf("position = %d after saturating grasp, want 0", m.Position())
	}
}

func TestGraspingToHoldingOnGripForce(t *testing.T) {
	m := New(testTuning())
	m.Process(t0, Inputs{Buttons: Buttons{Grasp: true}})

	now := t0.Add(200 * time.Millisecond)
	m.Process(now, Inputs{CurrentMA: 9.0, Magnitude: 6.0})
	if m.State() != Holding {
		t.Fatalf("state = %v, want HOLDING", m.State())
	}
	if !m.lastSlipOrEntry.Equal(now) || !m.lastBackoff.Equal(now) {
		t.Error("grip timers not reset on HOLDING entry")
	}
}

func TestGraspingNeedsBothThresholds(t *testing.T) {
	cases := []struct {
		name      string
		current   float64
		magnitude float64
	}{
		{"current only", 9.0, 4.0},
		{"magnitude only", 7.0, 6.0},
		{"neither", 1.0, 1.0},
	}
	for _, tc := range cases {
		m := New(testTuning())
		m.Process(t0, Inputs{Buttons: Buttons{Grasp: true}})
		m.Process(t0.Add(time.Millisecond), Inputs{CurrentMA: tc.current, Magnitude: tc.magnitude})
		if m.State() != Grasping {
			t.Errorf("%s: state = %v, want GRASPING", tc.name, m.State())
		}
	}
}

func TestGraspingToOpeningOnOpenIntent(t *testing.T) {
	m := New(testTuning())
	m.Process(t0, Inputs{Buttons: Buttons{Grasp: true}})
	m.Process(t0.Add(time.Millisecond), Inputs{Buttons: Buttons{Open: true}})
	if m.State() != Opening {
		t.Errorf("state = %v, want OPENING", m.State())
	}
}

// enterHolding drives a fresh machine to HOLDING at the given time.
func enterHolding(t *testing.T, m *Machine, now time.Time) {
	t.Helper()
	m.Process(now, Inputs{Buttons: Buttons{Grasp: true}})
	m.Process(now.Add(time.Millisecond), Inputs{CurrentMA: 9.0, Magnitude: 6.0})
	if m.State() != Holding {
		t.Fatalf("setup: state = %v, want HOLDING", m.State())
	}
}

func TestHoldingSlipReaction(t *testing.T) {
	m := New(testTuning())
	enterHolding(t, m, t0)
	posBefore := m.Position()

	now := t0.Add(500 * time.Millisecond)
	fx := m.Process(now, Inputs{
		Magnitude:     6.0,
		SlipFresh:     true,
		SlipFlag:      true,
		SlipIndicator: 600,
	})
	if m.State() != Reacting {
		t.Fatalf("state = %v, want REACTING", m.State())
	}
	if !fx.ConsumeSlip {
		t.Error("fresh slip result must be consumed")
	}

	// REACTING is a single-cycle transient: next cycle back to HOLDING
	// with the position tightened by round(600/250)=2.
	fx = m.Process(now.Add(time.Millisecond), Inputs{Magnitude: 6.0, SlipIndicator: 600})
	if m.State() != Holding {
		t.Fatalf("state = %v after reaction, want HOLDING", m.State())
	}
	if m.Position() != posBefore-2 {
		t.Errorf("position = %d, want %d", m.Position(), posBefore-2)
	}
	if !fx.ResetSlip {
		t.Error("reaction must request a slip detector reset")
	}
}

func TestReactionStepCappedAtMax(t *testing.T) {
	m := New(testTuning())
	enterHolding(t, m, t0)
	posBefore := m.Position()

	now := t0.Add(500 * time.Millisecond)
	m.Process(now, Inputs{Magnitude: 6.0, SlipFresh: true, SlipFlag: true})
	m.Process(now.Add(time.Millisecond), Inputs{Magnitude: 6.0, SlipIndicator: 1e9})
	if got := posBefore - m.Position(); got != 5 {
		t.Errorf("reaction step = %d, want capped at 5", got)
	}
}

func TestHoldingIgnoresStaleSlipFlag(t *testing.T) {
	m := New(testTuning())
	enterHolding(t, m, t0)

	// Flag set but not fresh: no reaction.
	m.Process(t0.Add(500*time.Millisecond), Inputs{Magnitude: 6.0, SlipFlag: true})
	if m.State() != Holding {
		t.Errorf("state = %v on stale flag, want HOLDING", m.State())
	}
}

func TestHoldingRetightensOnMagnitudeDrop(t *testing.T) {
	m := New(testTuning())
	enterHolding(t, m, t0)

	// Threshold 5.0, margin 1.0: 3.9 is below the re-tighten line.
	m.Process(t0.Add(500*time.Millisecond), Inputs{Magnitude: 3.9})
	if m.State() != Grasping {
		t.Errorf("state = %v, want GRASPING", m.State())
	}
}

func TestHoldingKeepsGripInsideMargin(t *testing.T) {
	m := New(testTuning())
	enterHolding(t, m, t0)

	// 4.5 is below the grip threshold but inside the drop margin.
	m.Process(t0.Add(500*time.Millisecond), Inputs{Magnitude: 4.5})
	if m.State() != Holding {
		t.Errorf("state = %v, want HOLDING", m.State())
	}
}

func TestHoldingGraspWinsOverOpen(t *testing.T) {
	m := New(testTuning())
	enterHolding(t, m, t0)

	m.Process(t0.Add(500*time.Millisecond), Inputs{
		Magnitude: 6.0,
		Buttons:   Buttons{Grasp: true, Open: true},
	})
	if m.State() != Grasping {
		t.Errorf("state = %v with both intents, want GRASPING", m.State())
	}
}

func TestHoldingBackoffDisabledByDefault(t *testing.T) {
	m := New(testTuning())
	enterHolding(t, m, t0)
	pos := m.Position()

	// Long quiet hold: with BackoffStep=0 the position must not move.
	now := t0
	for i := 0; i < 100; i++ {
		now = now.Add(time.Second)
		m.Process(now, Inputs{Magnitude: 6.0})
	}
	if m.Position() != pos {
		t.Errorf("position moved from %d to %d with backoff disabled", pos, m.Position())
	}
}

func TestHoldingBackoffHook(t *testing.T) {
	tn := testTuning()
	tn.BackoffStep = 1
	m := New(tn)
	enterHolding(t, m, t0)
	pos := m.Position()

	// Quiet for longer than BackoffDelay, then one step per interval.
	m.Process(t0.Add(3*time.Second), Inputs{Magnitude: 6.0})
	if m.Position() != pos+1 {
		t.Fatalf("position = %d after backoff, want %d", m.Position(), pos+1)
	}
	// Inside the interval: no further step.
	m.Process(t0.Add(3*time.Second+100*time.Millisecond), Inputs{Magnitude: 6.0})
	if m.Position() != pos+1 {
		t.Errorf("position = %d inside backoff interval, want %d", m.Position(), pos+1)
	}
}

func TestOpeningRunsToOpen(t *testing.T) {
	m := New(testTuning())
	m.Process(t0, Inputs{Buttons: Buttons{Grasp: true}})
	// Close a little first.
	now := t0
	for i := 0; i < 10; i++ {
		now = now.Add(80 * time.Millisecond)
		m.Process(now, Inputs{})
	}
	m.Process(now.Add(time.Millisecond), Inputs{Buttons: Buttons{Open: true}})
	if m.State() != Opening {
		t.Fatalf("state = %v, want OPENING", m.State())
	}

	for i := 0; i < 100; i++ {
		now = now.Add(time.Millisecond)
		m.Process(now, Inputs{})
		if m.Position() > 180 {
			t.Fatalf("position %d above fully-open", m.Position())
		}
	}
	if m.State() != Open || m.Position() != 180 {
		t.Errorf("state=%v position=%d, want OPEN/180", m.State(), m.Position())
	}
}

func TestProcessDeterminism(t *testing.T) {
	in := Inputs{Magnitude: 6.0, CurrentMA: 9.0, Buttons: Buttons{Grasp: true}}

	run := func() (State, int) {
		m := New(testTuning())
		now := t0
		for i := 0; i < 50; i++ {
			now = now.Add(80 * time.Millisecond)
			m.Process(now, in)
		}
		return m.State(), m.Position()
	}

	s1, p1 := run()
	s2, p2 := run()
	if s1 != s2 || p1 != p2 {
		t.Errorf("identical runs diverged: (%v,%d) vs (%v,%d)", s1, p1, s2, p2)
	}
}

func TestResetIdempotent(t *testing.T) {
	m := New(testTuning())
	enterHolding(t, m, t0)

	m.Reset()
	if m.State() != Open || m.Position() != 180 {
		t.Fatalf("after reset: state=%v position=%d", m.State(), m.Position())
	}
	m.Reset()
	if m.State() != Open || m.Position() != 180 {
		t.Errorf("second reset changed state: %v/%d", m.State(), m.Position())
	}
}

func TestStateStrings(t *testing.T) {
	want := map[State]string{
		Open:      "OPEN",
		Grasping:  "GRASPING",
		Holding:   "HOLDING",
		Reacting:  "REACTING",
		Opening:   "OPENING",
		State(99): "UNKNOWN",
	}
	for s, label := range want {
		if s.String() != label {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), label)
		}
	}
}
