package alert

import (
	"context"
	"fmt"
	"time"

	"pegvault/internal/vault"
)

// Watcher periodically probes the vault for conditions an operator must
// hear about: reserve counters diverging from held balances, and a
// reference price that has gone stale. Alerts fire once per condition
// until it clears.
type Watcher struct {
	vault      *vault.Vault
	notifier   Notifier
	staleAfter time.Duration
	interval   time.Duration

	driftAlerted bool
	staleAlerted bool

	now func() time.Time
}

// NewWatcher creates a watcher. staleAfter is how old the last accepted
// price may get before an alert fires.
func NewWatcher(v *vault.Vault, n Notifier, staleAfter, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{
		vault:      v,
		notifier:   n,
		staleAfter: staleAfter,
		interval:   interval,
		now:        time.Now,
	}
}

// SetClock overrides the time source for tests.
func (w *Watcher) SetClock(now func() time.Time) { w.now = now }

// Run probes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Probe(ctx)
		}
	}
}

// Probe runs one round of checks.
func (w *Watcher) Probe(ctx context.Context) {
	w.checkDrift(ctx)
	w.checkStale(ctx)
}

func (w *Watcher) checkDrift(ctx context.Context) {
	nat, stab := w.vault.ReserveDrift()
	if nat == 0 && stab == 0 {
		w.driftAlerted = false
		return
	}
	if w.driftAlerted {
		return
	}
	w.driftAlerted = true
	w.notifier.Send(ctx, Alert{
		Level: LevelCritical,
		Title: "reserve drift detected",
		Message: fmt.Sprintf("counters diverge from held balances: native=%d stable=%d",
			nat, stab),
	})
}

func (w *Watcher) checkStale(ctx context.Context) {
	if w.staleAfter <= 0 {
		return
	}
	_, at := w.vault.Rate()
	age := w.now().Sub(at)
	if age < w.staleAfter {
		w.staleAlerted = false
		return
	}
	if w.staleAlerted {
		return
	}
	w.staleAlerted = true
	w.notifier.Send(ctx, Alert{
		Level:   LevelWarning,
		Title:   "reference price stale",
		Message: fmt.Sprintf("last accepted update was %s ago", age.Round(time.Second)),
	})
}
