package actuator

import (
	"testing"
	"time"
)

func testHomingConfig() HomingConfig {
	return HomingConfig{
		CurrentMA:      300,
		StallThreshold: 50,
		Speed:          20000,
		AwayDuration:   5 * time.Second,
		SettleDuration: 2 * time.Second,
		Timeout:        10 * time.Second,
		StallReadings:  3,
		StallLoadLimit: 50,
	}
}

// runHoming ticks the homer at 10 ms intervals, feeding the scripted
// load values, and returns the result.
func runHoming(t *testing.T, drv *fakeDriver, h *Homer) Result {
	t.Helper()
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	if err := h.Start(now); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3000 && !h.Done(); i++ {
		now = now.Add(10 * time.Millisecond)
		if err := h.Step(now); err != nil {
			t.Fatal(err)
		}
	}
	if !h.Done() {
		t.Fatal("homing never finished")
	}
	return h.Result()
}

func TestHomingFindsStall(t *testing.T) {
	drv := &fakeDriver{defaultLoad: 400}
	h := NewHomer(drv, testHomingConfig(), 600, 4)

	if err := h.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	if drv.currentMA != 300 {
		t.Fatalf("homing current = %d mA, want 300", drv.currentMA)
	}
	if drv.speed != 20000 {
		t.Fatalf("away speed = %d, want +20000", drv.speed)
	}

	// Free-running loads for a while, then a sustained stall.
	drv.loads = make([]int, 0, 600)
	for i := 0; i < 500; i++ {
		drv.loads = append(drv.loads, 400)
	}
	for i := 0; i < 10; i++ {
		drv.loads = append(drv.loads, 10)
	}

	res := runHoming(t, drv, NewHomer(drv, testHomingConfig(), 600, 4))
	if !res.Stalled {
		t.Fatal("expected a stall result")
	}
	if drv.position != 0 || len(drv.positionSets) == 0 {
		t.Fatal("position reference not zeroed after homing")
	}
	if drv.currentMA != 600 {
		t.Fatalf("run current not restored, got %d mA", drv.currentMA)
	}
	if drv.stallThresh != 4 {
		t.Fatalf("run stall threshold not restored, got %d", drv.stallThresh)
	}
	if drv.stops == 0 {
		t.Fatal("motor was not stopped at the end stop")
	}
}

func TestHomingApproachReversesDirection(t *testing.T) {
	drv := &fakeDriver{defaultLoad: 400}
	h := NewHomer(drv, testHomingConfig(), 600, 4)

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	if err := h.Start(now); err != nil {
		t.Fatal(err)
	}
	if err := h.Step(now.Add(6 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if drv.speed != -20000 {
		t.Fatalf("approach speed = %d, want -20000", drv.speed)
	}
}

func TestHomingIgnoresIsolatedStallReading(t *testing.T) {
	drv := &fakeDriver{defaultLoad: 400}

	// One noisy below-limit reading, then free running, then a real
	// stall. The single reading must not end the run.
	drv.loads = []int{400, 400, 10, 400, 400}
	for i := 0; i < 100; i++ {
		drv.loads = append(drv.loads, 400)
	}
	for i := 0; i < 10; i++ {
		drv.loads = append(drv.loads, 10)
	}

	res := runHoming(t, drv, NewHomer(drv, testHomingConfig(), 600, 4))
	if !res.Stalled {
		t.Fatal("expected the later sustained stall to be found")
	}
	// The noise reading was consumed before the sustained run, so the
	// run must have outlived the first few readings.
	if drv.loadIdx < 10 {
		t.Fatalf("run ended after only %d load readings", drv.loadIdx)
	}
}

func TestHomingTimeoutReportsUncalibrated(t *testing.T) {
	// Loads never drop below the limit: the gripper never reaches the
	// end stop.
	drv := &fakeDriver{defaultLoad: 400}

	res := runHoming(t, drv, NewHomer(drv, testHomingConfig(), 600, 4))
	if res.Stalled {
		t.Fatal("timeout run must not report a stall")
	}
	// The reference is still zeroed so the controller has a consistent
	// origin, and the run profile is still restored.
	if len(drv.positionSets) == 0 {
		t.Fatal("position reference not zeroed on timeout")
	}
	if drv.currentMA != 600 {
		t.Fatalf("run current not restored on timeout, got %d mA", drv.currentMA)
	}
	if res.Elapsed < testHomingConfig().AwayDuration+testHomingConfig().Timeout {
		t.Fatalf("run ended after %v, before the approach timeout", res.Elapsed)
	}
}

func TestHomingSettleSuppressesEarlyReadings(t *testing.T) {
	drv := &fakeDriver{defaultLoad: 400}
	h := NewHomer(drv, testHomingConfig(), 600, 4)

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	if err := h.Start(now); err != nil {
		t.Fatal(err)
	}
	// Enter the approach phase.
	now = now.Add(5*time.Second + 10*time.Millisecond)
	if err := h.Step(now); err != nil {
		t.Fatal(err)
	}
	// Within the settle window no loads may be read even if the driver
	// would report stall-level values.
	drv.loads = []int{0, 0, 0, 0, 0}
	for i := 0; i < 10; i++ {
		now = now.Add(10 * time.Millisecond)
		if err := h.Step(now); err != nil {
			t.Fatal(err)
		}
	}
	if drv.loadIdx != 0 {
		t.Fatalf("%d load readings taken during the settle window, want 0", drv.loadIdx)
	}
	if h.Done() {
		t.Fatal("homing ended during the settle window")
	}
}
