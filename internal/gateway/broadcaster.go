package gateway

import (
	"strconv"
	"time"
)

// broadcast builds the wire envelope and fans it out to subscribed clients.
// The envelope JSON is hand-crafted to keep allocations off the hot path.
// Per-channel seq lets clients detect gaps and backfill via ReplayRange.
func (h *Hub) broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')

	h.mu.Lock()
	bl, exists := h.backlogs[channel]
	if !exists {
		bl = NewBacklog(500)
		h.backlogs[channel] = bl
	}
	h.mu.Unlock()
	bl.Push(channelSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wantsChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}
