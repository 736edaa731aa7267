package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"pegvault/internal/token"
	"pegvault/internal/vault"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingNotifier) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func newTestVault(t *testing.T) (*vault.Vault, *token.Book) {
	t.Helper()
	pegged := token.NewBook("USDP", "ledgerowner")
	native := token.NewBook("TRX", "ledgerowner")
	stable := token.NewBook("USDT", "ledgerowner")
	if err := pegged.SetMinter("ledgerowner", "vault"); err != nil {
		t.Fatal(err)
	}
	v, err := vault.New(vault.Config{
		Identity:        "vault",
		Owner:           "owner",
		FeeCollector:    "collector",
		PriceSource:     "oracle",
		InitialRate:     3_000_000,
		MaxDeviationBps: 1000,
		MinUpdatePeriod: time.Hour,
	}, pegged.AsCaller("vault"), native.AsCaller("vault"), stable.AsCaller("vault"))
	if err != nil {
		t.Fatal(err)
	}
	return v, native
}

func TestDriftAlertFiresOnce(t *testing.T) {
	v, native := newTestVault(t)
	rec := &recordingNotifier{}
	w := NewWatcher(v, rec, 0, time.Second)
	ctx := context.Background()

	// No drift, no alert.
	w.Probe(ctx)
	if rec.count() != 0 {
		t.Fatalf("got %d alerts with zero drift", rec.count())
	}

	// Funds appear at the vault address outside any vault operation:
	// held balance now exceeds the counter.
	if err := native.Mint("ledgerowner", "vault", 250_000); err != nil {
		t.Fatal(err)
	}
	w.Probe(ctx)
	w.Probe(ctx)
	w.Probe(ctx)
	if rec.count() != 1 {
		t.Fatalf("got %d alerts, want exactly 1 while drift persists", rec.count())
	}
	if rec.alerts[0].Level != LevelCritical {
		t.Errorf("level = %s, want CRITICAL", rec.alerts[0].Level)
	}
}

func TestStalePriceAlert(t *testing.T) {
	v, _ := newTestVault(t)
	rec := &recordingNotifier{}
	w := NewWatcher(v, rec, 2*time.Hour, time.Second)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v.SetClock(func() time.Time { return base })

	// Fresh price via the source path stamps lastUpdate at base.
	if err := v.UpdateRefPrice("oracle", 3_100_000); err != nil {
		t.Fatal(err)
	}

	clock := base
	w.SetClock(func() time.Time { return clock })
	ctx := context.Background()

	w.Probe(ctx)
	if rec.count() != 0 {
		t.Fatalf("fresh price should not alert, got %d", rec.count())
	}

	clock = base.Add(3 * time.Hour)
	w.Probe(ctx)
	w.Probe(ctx)
	if rec.count() != 1 {
		t.Fatalf("got %d alerts, want exactly 1 for stale price", rec.count())
	}
	if rec.alerts[0].Level != LevelWarning {
		t.Errorf("level = %s, want WARNING", rec.alerts[0].Level)
	}

	// A new accepted price clears the condition and re-arms the alert.
	v.SetClock(func() time.Time { return clock })
	if err := v.UpdateRefPrice("oracle", 3_150_000); err != nil {
		t.Fatal(err)
	}
	w.Probe(ctx)
	if rec.count() != 1 {
		t.Fatalf("cleared condition must not alert again, got %d", rec.count())
	}
}

func TestMultiNotifierBestEffort(t *testing.T) {
	rec := &recordingNotifier{}
	m := Multi{NewLogNotifier(), rec}
	if err := m.Send(context.Background(), Alert{Level: LevelInfo, Title: "t", Message: "m"}); err != nil {
		t.Fatalf("Multi.Send: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("alert not delivered to all backends")
	}
}
