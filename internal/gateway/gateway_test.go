package gateway

import (
	"encoding/json"
	"fmt"
	"testing"

	"pegvault/internal/model"
)

// envelope is the parsed WS message structure.
type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

func TestBroadcastEnvelopeFormat(t *testing.T) {
	h := NewHub(nil)
	data := []byte(`{"new_rate":3100000,"old_rate":3000000,"caller":"oracle","source":"oracle"}`)

	h.broadcast(model.ChannelPrice, data)

	latest := h.LatestAll()
	raw, ok := latest[model.ChannelPrice]
	if !ok {
		t.Fatal("latest entry missing for price channel")
	}
	var upd model.PriceUpdated
	if err := json.Unmarshal(raw, &upd); err != nil {
		t.Fatalf("latest data is not valid JSON: %v", err)
	}
	if upd.NewRate != 3_100_000 {
		t.Errorf("new_rate = %d, want 3100000", upd.NewRate)
	}

	// The backlogged envelope must be valid JSON with all fields.
	envs := h.ReplayRange(model.ChannelPrice, 1, 1)
	if len(envs) != 1 {
		t.Fatalf("got %d backlogged envelopes, want 1", len(envs))
	}
	var env envelope
	if err := json.Unmarshal(envs[0], &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, envs[0])
	}
	if env.Channel != model.ChannelPrice {
		t.Errorf("channel = %q, want %q", env.Channel, model.ChannelPrice)
	}
	if env.Seq != 1 || env.ChannelSeq != 1 {
		t.Errorf("seq/channel_seq = %d/%d, want 1/1", env.Seq, env.ChannelSeq)
	}
}

func TestPerChannelSeqTracksIndependently(t *testing.T) {
	h := NewHub(nil)
	data := []byte(`{}`)

	h.broadcast(model.ChannelPrice, data)
	h.broadcast(model.ChannelPrice, data)
	h.broadcast(model.ChannelPrice, data)
	h.broadcast(model.ChannelTrade, data)
	h.broadcast(model.ChannelTrade, data)

	if got := h.ChannelSeq(model.ChannelPrice); got != 3 {
		t.Errorf("price channel seq = %d, want 3", got)
	}
	if got := h.ChannelSeq(model.ChannelTrade); got != 2 {
		t.Errorf("trade channel seq = %d, want 2", got)
	}

	// Global seq keeps counting across channels.
	envs := h.ReplayRange(model.ChannelTrade, 2, 2)
	if len(envs) != 1 {
		t.Fatalf("got %d envelopes, want 1", len(envs))
	}
	var env envelope
	if err := json.Unmarshal(envs[0], &env); err != nil {
		t.Fatal(err)
	}
	if env.Seq != 5 {
		t.Errorf("global seq = %d, want 5", env.Seq)
	}
}

func TestStreamNameMapping(t *testing.T) {
	tests := []struct {
		channel string
		want    string
		ok      bool
	}{
		{model.ChannelPrice, "price", true},
		{model.ChannelTrade, "trade", true},
		{model.ChannelAdmin, "admin", true},
		{"pub:peg:other", "", false},
	}
	for _, tt := range tests {
		got, ok := streamName(tt.channel)
		if ok != tt.ok || got != tt.want {
			t.Errorf("streamName(%q) = %q,%v; want %q,%v", tt.channel, got, ok, tt.want, tt.ok)
		}
	}
}

func TestClientStreamFiltering(t *testing.T) {
	c := &Client{subs: make(map[string]bool)}

	// No subscriptions: receive everything.
	if !c.wantsChannel(model.ChannelPrice) || !c.wantsChannel(model.ChannelAdmin) {
		t.Error("unfiltered client should receive all channels")
	}

	c.setStreams([]string{"price", "bogus"})
	if !c.wantsChannel(model.ChannelPrice) {
		t.Error("subscribed stream should be delivered")
	}
	if c.wantsChannel(model.ChannelTrade) {
		t.Error("unsubscribed stream should be filtered")
	}
	// Unknown stream names are dropped from the subscription set.
	c.subMu.RLock()
	if c.subs["bogus"] {
		t.Error("unknown stream name should not be stored")
	}
	c.subMu.RUnlock()
}

func TestBacklogEviction(t *testing.T) {
	bl := NewBacklog(4)
	for i := int64(1); i <= 10; i++ {
		bl.Push(i, []byte(fmt.Sprintf(`{"seq":%d}`, i)))
	}
	if bl.Len() != 4 {
		t.Fatalf("len = %d, want 4", bl.Len())
	}

	// Only the last 4 survive.
	entries := bl.Range(1, 10)
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	if entries[0].Seq != 7 || entries[3].Seq != 10 {
		t.Errorf("range = [%d..%d], want [7..10]", entries[0].Seq, entries[3].Seq)
	}

	// Sub-range query.
	entries = bl.Range(8, 9)
	if len(entries) != 2 || entries[0].Seq != 8 || entries[1].Seq != 9 {
		t.Errorf("sub-range query returned %v", entries)
	}
}
