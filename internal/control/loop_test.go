package control

import (
	"errors"
	"testing"
	"time"

	"github.com/relabs-tech/adaptive_gripper/internal/actuator"
	"github.com/relabs-tech/adaptive_gripper/internal/filter"
	"github.com/relabs-tech/adaptive_gripper/internal/grip"
	"github.com/relabs-tech/adaptive_gripper/internal/sensors"
	"github.com/relabs-tech/adaptive_gripper/internal/slip"
)

// scriptedField replays fixed readings; failAt indexes (0-based) error
// out instead.
type scriptedField struct {
	x, y, z float64
	calls   int
	failAt  map[int]bool
}

func (s *scriptedField) Read() (float64, float64, float64, error) {
	i := s.calls
	s.calls++
	if s.failAt[i] {
		return 0, 0, 0, errors.New("i2c timeout")
	}
	return s.x, s.y, s.z, nil
}

type countingCurrent struct {
	mA    float64
	calls int
}

func (c *countingCurrent) ReadMilliAmps() (float64, error) {
	c.calls++
	return c.mA, nil
}

type countingButtons struct {
	state sensors.ButtonState
	calls int
}

func (b *countingButtons) Read() (sensors.ButtonState, error) {
	b.calls++
	return b.state, nil
}

// slowField blocks past the scan interval to force a cycle overrun.
type slowField struct {
	delay time.Duration
}

func (s *slowField) Read() (float64, float64, float64, error) {
	time.Sleep(s.delay)
	return 1, 1, 1, nil
}

// nullDriver satisfies actuator.Driver with no feedback and no load.
type nullDriver struct{}

func (nullDriver) RunSpeed(int) error          { return nil }
func (nullDriver) ForceStop() error            { return nil }
func (nullDriver) EnableOutputs() error        { return nil }
func (nullDriver) DisableOutputs() error       { return nil }
func (nullDriver) Load() (int, error)          { return 400, nil }
func (nullDriver) SetCurrent(int) error        { return nil }
func (nullDriver) SetStallThreshold(int) error { return nil }
func (nullDriver) SetPosition(int64) error     { return nil }
func (nullDriver) Position() (int64, bool)     { return 0, false }

func testTuning() grip.Tuning {
	return grip.Tuning{
		FullyOpen:           180,
		FullyClosed:         0,
		ReactionCooldown:    74 * time.Millisecond,
		BackoffDelay:        2 * time.Second,
		BackoffInterval:     time.Second,
		CurrentThresholdMA:  8.0,
		MagnitudeThreshold:  5.0,
		MagnitudeDropMargin: 1.0,
		GraspingStep:        2,
		OpeningStep:         5,
		MaxReactionSteps:    5,
		SlipThreshold:       250.0,
		SlipIgnoreCycles:    256,
	}
}

func newTestLoop(t *testing.T, field sensors.FieldSource, current sensors.CurrentSource,
	buttons sensors.ButtonSource) *Loop {
	t.Helper()

	opts := Options{
		ScanInterval:     500 * time.Microsecond,
		CurrentInterval:  10 * time.Millisecond,
		ButtonInterval:   50 * time.Millisecond,
		ActuatorInterval: 10 * time.Millisecond,
		WarmupReadings:   8,
	}
	bank := filter.NewBank(filter.Rates{
		MainCutoffHz:      500,
		BandSplitCutoffHz: 30,
		FieldSampleHz:     2000,
		CurrentCutoffHz:   5,
		CurrentSampleHz:   100,
	})
	det, err := slip.New(slip.Options{
		Samples:     128,
		SampleHz:    2000,
		FreqStartHz: 40,
		FreqEndHz:   300,
		Threshold:   250,
	})
	if err != nil {
		t.Fatal(err)
	}
	machine := grip.New(testTuning())
	act := actuator.NewController(nullDriver{}, actuator.Tuning{
		MaxSpeed:     100000,
		Acceleration: 2000,
		Deadzone:     2,
		CyclePeriod:  10 * time.Millisecond,
	})
	return New(opts, field, current, buttons, bank, det, machine, act)
}

func TestCalibrateComputesOffsets(t *testing.T) {
	field := &scriptedField{x: 1.5, y: -0.4, z: 3.2}
	l := newTestLoop(t, field, &countingCurrent{}, &countingButtons{})
	l.opts.ScanInterval = time.Microsecond // keep the warm-up instant

	if err := l.Calibrate(); err != nil {
		t.Fatal(err)
	}
	cal := l.Calibration()
	if cal.Readings != 8 {
		t.Fatalf("readings = %d, want 8", cal.Readings)
	}
	if cal.XOffset != 1.5 || cal.YOffset != -0.4 || cal.ZOffset != 3.2 {
		t.Fatalf("offsets = (%.2f, %.2f, %.2f), want the constant input",
			cal.XOffset, cal.YOffset, cal.ZOffset)
	}
}

func TestCalibrateFailsOnReadError(t *testing.T) {
	field := &scriptedField{failAt: map[int]bool{3: true}}
	l := newTestLoop(t, field, &countingCurrent{}, &countingButtons{})
	l.opts.ScanInterval = time.Microsecond

	if err := l.Calibrate(); err == nil {
		t.Fatal("expected calibration to fail on a read error")
	}
}

func TestDividedPollRates(t *testing.T) {
	field := &scriptedField{x: 1, y: 1, z: 1}
	cur := &countingCurrent{mA: 3}
	btn := &countingButtons{}
	l := newTestLoop(t, field, cur, btn)

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ { // 100 ms of scan cycles
		now = now.Add(500 * time.Microsecond)
		l.step(now)
	}
	// Current every 20 cycles, buttons every 100.
	if cur.calls != 10 {
		t.Fatalf("current polls = %d, want 10", cur.calls)
	}
	if btn.calls != 2 {
		t.Fatalf("button polls = %d, want 2", btn.calls)
	}
}

func TestGraspButtonClosesGripper(t *testing.T) {
	field := &scriptedField{x: 0.1, y: 0.1, z: 0.1}
	btn := &countingButtons{state: sensors.ButtonState{Grasp: true}}
	l := newTestLoop(t, field, &countingCurrent{mA: 1}, btn)

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	start := l.machine.Position()
	for i := 0; i < 600; i++ { // 300 ms, several reaction cooldowns
		now = now.Add(500 * time.Microsecond)
		l.step(now)
	}
	if got := l.machine.State(); got != grip.Grasping {
		t.Fatalf("state = %v, want Grasping", got)
	}
	if l.machine.Position() >= start {
		t.Fatalf("position %d did not move toward closed from %d", l.machine.Position(), start)
	}

	snap := l.Snapshot()
	if snap.State != grip.Grasping.String() {
		t.Fatalf("snapshot state = %q, want %q", snap.State, grip.Grasping.String())
	}
	if snap.Position != l.machine.Position() {
		t.Fatalf("snapshot position %d != machine position %d", snap.Position, l.machine.Position())
	}
}

func TestFieldReadErrorHoldsPipeline(t *testing.T) {
	fails := map[int]bool{}
	for i := 50; i < 60; i++ {
		fails[i] = true
	}
	field := &scriptedField{x: 2, y: 2, z: 2, failAt: fails}
	l := newTestLoop(t, field, &countingCurrent{}, &countingButtons{})

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	var before, during Snapshot
	for i := 0; i < 100; i++ {
		now = now.Add(500 * time.Microsecond)
		l.step(now)
		if i == 49 {
			before = l.Snapshot()
		}
		if i == 55 {
			during = l.Snapshot()
		}
	}
	// The held sample keeps the filters converging on the same value;
	// the magnitude must not collapse toward zero during the outage.
	if during.Field.Magnitude < before.Field.Magnitude {
		t.Fatalf("magnitude dropped during outage: %.3f -> %.3f",
			before.Field.Magnitude, during.Field.Magnitude)
	}
}

func TestSnapshotPopulated(t *testing.T) {
	field := &scriptedField{x: 1, y: 1, z: 1}
	l := newTestLoop(t, field, &countingCurrent{mA: 3}, &countingButtons{})

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		now = now.Add(500 * time.Microsecond)
		l.step(now)
	}
	snap := l.Snapshot()
	if snap.Time == "" {
		t.Fatal("snapshot time not set")
	}
	if snap.State != grip.Open.String() {
		t.Fatalf("state = %q, want %q", snap.State, grip.Open.String())
	}
	if snap.CycleUS < 0 {
		t.Fatalf("cycle duration = %d µs", snap.CycleUS)
	}
	if snap.CurrentMA == 0 {
		t.Fatal("filtered current never updated")
	}
}

func TestRequestResetAppliedOnNextStep(t *testing.T) {
	field := &scriptedField{x: 1, y: 1, z: 1}
	btn := &countingButtons{state: sensors.ButtonState{Grasp: true}}
	l := newTestLoop(t, field, &countingCurrent{}, btn)

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 400; i++ {
		now = now.Add(500 * time.Microsecond)
		l.step(now)
	}
	if l.machine.State() != grip.Grasping {
		t.Fatalf("setup: state = %v, want Grasping", l.machine.State())
	}

	// Operator lets go; the next button poll clears the held intent.
	btn.state = sensors.ButtonState{}
	for i := 0; i < 100; i++ {
		now = now.Add(500 * time.Microsecond)
		l.step(now)
	}

	// Reset requested from another goroutine's point of view: applied
	// at the start of the following cycle, not immediately.
	l.RequestReset()
	now = now.Add(500 * time.Microsecond)
	l.step(now)
	if l.machine.State() != grip.Open {
		t.Fatalf("state = %v after requested reset, want Open", l.machine.State())
	}
	if l.machine.Position() != testTuning().FullyOpen {
		t.Fatalf("position = %d after requested reset, want %d",
			l.machine.Position(), testTuning().FullyOpen)
	}
}

func TestOverrunFlagged(t *testing.T) {
	l := newTestLoop(t, &slowField{delay: 2 * time.Millisecond}, &countingCurrent{}, &countingButtons{})

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	l.step(now.Add(500 * time.Microsecond))

	snap := l.Snapshot()
	if !snap.Overrun {
		t.Fatalf("overrun not flagged for a cycle of %dus at a 500us scan interval", snap.CycleUS)
	}
	if snap.CycleUS < 2000 {
		t.Fatalf("cycle duration = %dus, want at least the 2ms sensor stall", snap.CycleUS)
	}
}

func TestResetIdempotent(t *testing.T) {
	field := &scriptedField{x: 1, y: 1, z: 1}
	btn := &countingButtons{state: sensors.ButtonState{Grasp: true}}
	l := newTestLoop(t, field, &countingCurrent{}, btn)

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 400; i++ {
		now = now.Add(500 * time.Microsecond)
		l.step(now)
	}
	l.Reset()
	l.Reset()
	if l.machine.State() != grip.Open {
		t.Fatalf("state after reset = %v, want Open", l.machine.State())
	}
	if l.machine.Position() != testTuning().FullyOpen {
		t.Fatalf("position after reset = %d, want %d", l.machine.Position(), testTuning().FullyOpen)
	}
}
