package oracle

import (
	"errors"
	"testing"
	"time"

	"pegvault/internal/model"
)

// recordingSink captures pushes; refuse makes it reject them.
type recordingSink struct {
	pushes []uint64
	caller model.Address
	refuse bool
}

func (s *recordingSink) UpdateRefPrice(caller model.Address, newRate uint64) error {
	if s.refuse {
		return errors.New("sink refused")
	}
	s.caller = caller
	s.pushes = append(s.pushes, newRate)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestOracle(t *testing.T) (*Oracle, *recordingSink, *fakeClock) {
	t.Helper()
	o, err := New(Config{
		Identity:          "oracle",
		Owner:             "owner",
		InitialRate:       3_000_000,
		MaxDeviationBps:   1000,
		MinUpdateInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	o.SetClock(clock.now)
	sink := &recordingSink{}
	if err := o.SetVault("owner", sink); err != nil {
		t.Fatalf("set vault: %v", err)
	}
	if err := o.AddUpdater("owner", "feeder"); err != nil {
		t.Fatalf("add updater: %v", err)
	}
	return o, sink, clock
}

func TestUpdatePrice_AcceptsWithinDeviation(t *testing.T) {
	o, sink, _ := newTestOracle(t)

	// 3_000_000 → 3_300_000 is exactly 10% up: accepted at 1000 bps.
	if err := o.UpdatePrice("feeder", 3_300_000); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	rate, _ := o.Rate()
	if rate != 3_300_000 {
		t.Errorf("expected rate 3300000, got %d", rate)
	}
	if len(sink.pushes) != 1 || sink.pushes[0] != 3_300_000 {
		t.Errorf("expected one push of 3300000, got %v", sink.pushes)
	}
	if sink.caller != "oracle" {
		t.Errorf("push should present the oracle identity, got %q", sink.caller)
	}
}

func TestUpdatePrice_RejectsDeviationExceeded(t *testing.T) {
	o, sink, _ := newTestOracle(t)

	// 3_301_000 is 1003 bps: over the 1000 bps bound.
	err := o.UpdatePrice("feeder", 3_301_000)
	if !errors.Is(err, model.ErrDeviationExceeded) {
		t.Fatalf("expected ErrDeviationExceeded, got %v", err)
	}
	rate, _ := o.Rate()
	if rate != 3_000_000 {
		t.Errorf("rate must be unchanged after reject, got %d", rate)
	}
	if len(sink.pushes) != 0 {
		t.Errorf("no push expected on reject, got %v", sink.pushes)
	}
}

func TestUpdatePrice_RateLimited(t *testing.T) {
	o, _, clock := newTestOracle(t)

	if err := o.UpdatePrice("feeder", 3_100_000); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	clock.advance(59 * time.Minute)
	if err := o.UpdatePrice("feeder", 3_150_000); !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	clock.advance(time.Minute)
	if err := o.UpdatePrice("feeder", 3_150_000); err != nil {
		t.Fatalf("update after interval failed: %v", err)
	}
}

func TestUpdatePrice_ZeroIntervalDisablesRateLimit(t *testing.T) {
	o, _, _ := newTestOracle(t)
	if err := o.SetMinInterval("owner", 0); err != nil {
		t.Fatal(err)
	}
	for _, r := range []uint64{3_100_000, 3_200_000, 3_300_000} {
		if err := o.UpdatePrice("feeder", r); err != nil {
			t.Fatalf("update to %d failed: %v", r, err)
		}
	}
}

func TestUpdatePrice_Unauthorized(t *testing.T) {
	o, _, _ := newTestOracle(t)
	if err := o.UpdatePrice("stranger", 3_100_000); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestUpdatePrice_ZeroRate(t *testing.T) {
	o, _, _ := newTestOracle(t)
	if err := o.UpdatePrice("feeder", 0); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdatePrice_OwnerIsImplicitlyAuthorized(t *testing.T) {
	o, _, _ := newTestOracle(t)
	if err := o.UpdatePrice("owner", 3_100_000); err != nil {
		t.Fatalf("owner update failed: %v", err)
	}
}

func TestUpdatePrice_SinkRefusalFailsWholeUpdate(t *testing.T) {
	o, sink, _ := newTestOracle(t)
	sink.refuse = true

	err := o.UpdatePrice("feeder", 3_100_000)
	if !errors.Is(err, model.ErrExternalCall) {
		t.Fatalf("expected ErrExternalCall, got %v", err)
	}
	rate, last := o.Rate()
	if rate != 3_000_000 || !last.IsZero() {
		t.Errorf("oracle state must be unchanged when push fails: rate=%d last=%v", rate, last)
	}
}

func TestForceUpdatePrice_BypassesBounds(t *testing.T) {
	o, sink, _ := newTestOracle(t)

	// Huge deviation and no interval elapsed: force path accepts.
	if err := o.ForceUpdatePrice("owner", 9_000_000); err != nil {
		t.Fatalf("force update failed: %v", err)
	}
	if err := o.ForceUpdatePrice("owner", 1_000_000); err != nil {
		t.Fatalf("second force update failed: %v", err)
	}
	rate, _ := o.Rate()
	if rate != 1_000_000 {
		t.Errorf("expected rate 1000000, got %d", rate)
	}
	if len(sink.pushes) != 2 {
		t.Errorf("expected 2 pushes, got %d", len(sink.pushes))
	}

	// Still rejects zero and non-owners.
	if err := o.ForceUpdatePrice("owner", 0); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if err := o.ForceUpdatePrice("feeder", 2_000_000); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestUpdaters_DuplicateGuards(t *testing.T) {
	o, _, _ := newTestOracle(t)

	if err := o.AddUpdater("owner", "feeder"); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("duplicate add should fail, got %v", err)
	}
	if err := o.RemoveUpdater("owner", "ghost"); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("removing a non-updater should fail, got %v", err)
	}
	if err := o.AddUpdater("feeder", "x"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("non-owner add should fail, got %v", err)
	}

	if err := o.RemoveUpdater("owner", "feeder"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := o.UpdatePrice("feeder", 3_100_000); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("removed updater must lose access, got %v", err)
	}
}

func TestSetMaxDeviation_Ceiling(t *testing.T) {
	o, _, _ := newTestOracle(t)

	if err := o.SetMaxDeviation("owner", 3000); err != nil {
		t.Errorf("3000 bps is within the ceiling: %v", err)
	}
	if err := o.SetMaxDeviation("owner", 3001); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("3001 bps must fail, got %v", err)
	}
	if err := o.SetMaxDeviation("feeder", 500); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("non-owner must fail, got %v", err)
	}
}

func TestOwnerHandoff_MovesControl(t *testing.T) {
	o, _, _ := newTestOracle(t)

	if err := o.ProposeOwner("owner", "newowner"); err != nil {
		t.Fatal(err)
	}
	// Until accept, old owner keeps control.
	if err := o.SetMaxDeviation("owner", 2000); err != nil {
		t.Fatalf("old owner should keep control pre-accept: %v", err)
	}
	if err := o.AcceptOwner("newowner"); err != nil {
		t.Fatal(err)
	}
	if err := o.SetMaxDeviation("owner", 1500); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("old owner must lose control, got %v", err)
	}
	if err := o.SetMaxDeviation("newowner", 1500); err != nil {
		t.Errorf("new owner should have control: %v", err)
	}
}

func TestNew_RejectsZeroInitialRate(t *testing.T) {
	_, err := New(Config{Identity: "o", Owner: "owner", InitialRate: 0})
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
