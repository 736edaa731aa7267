// Package oracle implements the bounded, access-controlled price-update
// state machine that feeds the vault. Accepted updates mutate the oracle's
// own price state and push the new rate into the vault's mirror in the same
// critical section, so the two copies can only diverge transiently while an
// update is in flight.
package oracle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"pegvault/internal/access"
	"pegvault/internal/model"
	"pegvault/internal/pricemath"
)

// Config seeds a new Oracle.
type Config struct {
	// Identity is the address the oracle presents when pushing into the
	// vault's price mirror.
	Identity model.Address

	// Owner is the initial owner; always authorized to update.
	Owner model.Address

	// InitialRate must be positive: a zero rate is never observable.
	InitialRate uint64

	// MaxDeviationBps bounds the relative move between consecutive accepted
	// updates. Zero selects the default (1000 bps).
	MaxDeviationBps uint64

	// MinUpdateInterval is the required spacing between accepted updates.
	// Negative selects the default (1h); zero disables rate limiting.
	MinUpdateInterval time.Duration
}

// Oracle gatekeeps price updates with rate limiting and deviation bounds,
// then propagates accepted prices to the vault. Every operation runs under
// one mutex per instance, preserving the strictly serialized execution model
// the conversion engine assumes.
type Oracle struct {
	mu sync.Mutex

	identity model.Address
	owner    *access.Ownable
	updaters *access.Allowlist

	rate       uint64
	lastUpdate time.Time

	maxDeviationBps uint64
	minInterval     time.Duration

	sink model.PriceSink

	now    func() time.Time
	events model.EventPublisher

	// OnReject, when set, is called with the operation name and the failure
	// for metrics accounting. Never called on success.
	OnReject func(op string, err error)
}

// New creates an Oracle. The vault push target starts unset; SetVault wires
// it before the first update, or updates apply locally only.
func New(cfg Config) (*Oracle, error) {
	if cfg.InitialRate == 0 {
		return nil, fmt.Errorf("%w: zero initial rate", model.ErrInvalidInput)
	}
	if cfg.Owner.IsZero() {
		return nil, fmt.Errorf("%w: zero owner address", model.ErrInvalidInput)
	}
	if cfg.MaxDeviationBps == 0 {
		cfg.MaxDeviationBps = pricemath.DefaultMaxDeviationBps
	}
	if cfg.MaxDeviationBps > pricemath.MaxDeviationCeilingBps {
		return nil, fmt.Errorf("%w: max deviation %d exceeds ceiling %d",
			model.ErrInvalidInput, cfg.MaxDeviationBps, pricemath.MaxDeviationCeilingBps)
	}
	if cfg.MinUpdateInterval < 0 {
		cfg.MinUpdateInterval = pricemath.DefaultMinUpdateIntervalSec * time.Second
	}
	return &Oracle{
		identity:        cfg.Identity,
		owner:           access.NewOwnable(cfg.Owner),
		updaters:        access.NewAllowlist(),
		rate:            cfg.InitialRate,
		maxDeviationBps: cfg.MaxDeviationBps,
		minInterval:     cfg.MinUpdateInterval,
		now:             time.Now,
	}, nil
}

// SetClock replaces the time source. Test hook.
func (o *Oracle) SetClock(now func() time.Time) {
	o.mu.Lock()
	o.now = now
	o.mu.Unlock()
}

// SetEventPublisher wires the audit event sink.
func (o *Oracle) SetEventPublisher(p model.EventPublisher) {
	o.mu.Lock()
	o.events = p
	o.mu.Unlock()
}

// Identity returns the address the oracle pushes with.
func (o *Oracle) Identity() model.Address { return o.identity }

// Rate returns the current rate and the time of the last accepted update.
func (o *Oracle) Rate() (uint64, time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rate, o.lastUpdate
}

// Owner returns the current owner.
func (o *Oracle) Owner() model.Address {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.owner.Owner()
}

// Updaters returns the authorized updater set, sorted.
func (o *Oracle) Updaters() []model.Address {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.updaters.Members()
}

// Bounds returns the configured deviation bound and minimum interval.
func (o *Oracle) Bounds() (maxDeviationBps uint64, minInterval time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxDeviationBps, o.minInterval
}

// UpdatePrice applies a bounded price update. The caller must be a
// registered updater or the owner. The new rate must be positive, arrive no
// sooner than minInterval after the last accepted update, and stay within
// maxDeviationBps of the current rate. On success the oracle state and the
// vault mirror change together.
func (o *Oracle) UpdatePrice(caller model.Address, newRate uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.checkedUpdate(caller, newRate); err != nil {
		o.reject("update_price", err)
		return err
	}
	return nil
}

func (o *Oracle) checkedUpdate(caller model.Address, newRate uint64) error {
	if !o.updaters.Contains(caller) && !o.owner.IsOwner(caller) {
		return fmt.Errorf("%w: caller %q is not an updater or owner", model.ErrUnauthorized, caller)
	}
	if newRate == 0 {
		return fmt.Errorf("%w: zero price", model.ErrInvalidInput)
	}
	if o.minInterval > 0 && o.now().Sub(o.lastUpdate) < o.minInterval {
		return fmt.Errorf("%w: %s since last update, need %s",
			model.ErrRateLimited, o.now().Sub(o.lastUpdate).Truncate(time.Second), o.minInterval)
	}
	if dev := pricemath.DeviationBps(o.rate, newRate); dev > o.maxDeviationBps {
		return fmt.Errorf("%w: move of %d bps exceeds bound %d bps",
			model.ErrDeviationExceeded, dev, o.maxDeviationBps)
	}
	return o.commit(caller, newRate, "oracle")
}

// ForceUpdatePrice bypasses the interval and deviation checks. Owner only;
// a zero rate is still rejected. Emergency override, deliberately unbounded.
func (o *Oracle) ForceUpdatePrice(caller model.Address, newRate uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.owner.IsOwner(caller) {
		err := fmt.Errorf("%w: force update requires owner", model.ErrUnauthorized)
		o.reject("force_update_price", err)
		return err
	}
	if newRate == 0 {
		err := fmt.Errorf("%w: zero price", model.ErrInvalidInput)
		o.reject("force_update_price", err)
		return err
	}
	if err := o.commit(caller, newRate, "oracle_force"); err != nil {
		o.reject("force_update_price", err)
		return err
	}
	return nil
}

// commit pushes into the vault mirror, then writes local state. The push
// happens first so a refused push leaves the oracle unchanged and the whole
// update fails as one unit. Caller must hold o.mu.
func (o *Oracle) commit(caller model.Address, newRate uint64, source string) error {
	if o.sink != nil {
		if err := o.sink.UpdateRefPrice(o.identity, newRate); err != nil {
			return fmt.Errorf("%w: vault price push: %v", model.ErrExternalCall, err)
		}
	}
	old := o.rate
	o.rate = newRate
	o.lastUpdate = o.now()
	o.emit(model.PriceUpdated{NewRate: newRate, OldRate: old, Caller: caller, Source: source})
	return nil
}

// AddUpdater registers an updater address. Owner only; duplicate adds fail.
func (o *Oracle) AddUpdater(caller, updater model.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.owner.IsOwner(caller) {
		return fmt.Errorf("%w: add updater requires owner", model.ErrUnauthorized)
	}
	if err := o.updaters.Add(updater); err != nil {
		return err
	}
	o.emit(model.UpdaterAdded{Updater: updater})
	return nil
}

// RemoveUpdater revokes an updater address. Owner only; removing an address
// that was never registered fails.
func (o *Oracle) RemoveUpdater(caller, updater model.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.owner.IsOwner(caller) {
		return fmt.Errorf("%w: remove updater requires owner", model.ErrUnauthorized)
	}
	if err := o.updaters.Remove(updater); err != nil {
		return err
	}
	o.emit(model.UpdaterRemoved{Updater: updater})
	return nil
}

// SetMaxDeviation sets the deviation bound, capped at 3000 bps. Owner only.
func (o *Oracle) SetMaxDeviation(caller model.Address, bps uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.owner.IsOwner(caller) {
		return fmt.Errorf("%w: set max deviation requires owner", model.ErrUnauthorized)
	}
	if bps == 0 || bps > pricemath.MaxDeviationCeilingBps {
		return fmt.Errorf("%w: deviation bound %d outside (0, %d]",
			model.ErrInvalidInput, bps, pricemath.MaxDeviationCeilingBps)
	}
	o.maxDeviationBps = bps
	return nil
}

// SetMinInterval sets the update spacing. Owner only. No ceiling; zero
// disables rate limiting entirely.
func (o *Oracle) SetMinInterval(caller model.Address, interval time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.owner.IsOwner(caller) {
		return fmt.Errorf("%w: set min interval requires owner", model.ErrUnauthorized)
	}
	if interval < 0 {
		return fmt.Errorf("%w: negative interval", model.ErrInvalidInput)
	}
	o.minInterval = interval
	return nil
}

// SetVault changes the push target. Owner only. The sink is not probed for
// conformance beyond the interface; pointing the oracle at a target that
// refuses pushes makes subsequent updates fail, which is the accepted risk.
func (o *Oracle) SetVault(caller model.Address, sink model.PriceSink) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.owner.IsOwner(caller) {
		return fmt.Errorf("%w: set vault requires owner", model.ErrUnauthorized)
	}
	o.sink = sink
	return nil
}

// ProposeOwner starts a two-step owner handoff.
func (o *Oracle) ProposeOwner(caller, candidate model.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.owner.Propose(caller, candidate)
}

// AcceptOwner completes a two-step owner handoff.
func (o *Oracle) AcceptOwner(caller model.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	old, err := o.owner.Accept(caller)
	if err != nil {
		return err
	}
	o.emit(model.OwnershipTransferred{Component: "oracle", OldOwner: old, NewOwner: o.owner.Owner()})
	return nil
}

func (o *Oracle) emit(e model.Event) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(context.Background(), e); err != nil {
		log.Printf("[oracle] WARNING: failed to publish %s event: %v", e.Kind(), err)
	}
}

func (o *Oracle) reject(op string, err error) {
	if o.OnReject != nil {
		o.OnReject(op, err)
	}
}
