package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pegvault/internal/model"
)

func TestMarshal_EnvelopeShape(t *testing.T) {
	e := model.PriceUpdated{NewRate: 3_300_000, OldRate: 3_000_000, Caller: "feeder", Source: "oracle"}

	raw, err := Marshal(e)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, raw)
	}
	if env.Kind != "price_updated" {
		t.Errorf("kind: got %q, want price_updated", env.Kind)
	}
	if time.Since(env.TS) > time.Minute {
		t.Errorf("ts looks stale: %v", env.TS)
	}

	var data model.PriceUpdated
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("data is not valid JSON: %v", err)
	}
	if data.NewRate != 3_300_000 || data.OldRate != 3_000_000 || data.Caller != "feeder" {
		t.Errorf("data fields wrong: %+v", data)
	}
}

type stubPublisher struct {
	kinds []string
	fail  bool
}

func (s *stubPublisher) Publish(_ context.Context, e model.Event) error {
	if s.fail {
		return errors.New("stub refused")
	}
	s.kinds = append(s.kinds, e.Kind())
	return nil
}

func TestFanout_FailedTargetDoesNotStopOthers(t *testing.T) {
	broken := &stubPublisher{fail: true}
	working := &stubPublisher{}
	var seen []error
	f := &Fanout{
		Targets: []model.EventPublisher{broken, working},
		OnError: func(err error) { seen = append(seen, err) },
	}

	if err := f.Publish(context.Background(), model.UpdaterAdded{Updater: "feeder"}); err != nil {
		t.Fatalf("fanout must report success: %v", err)
	}
	if len(working.kinds) != 1 || working.kinds[0] != "updater_added" {
		t.Errorf("working target should have received the event, got %v", working.kinds)
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 observed failure, got %d", len(seen))
	}
}
