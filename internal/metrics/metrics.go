package metrics

import "sync"

// Event counter names used by the signaling service.
const (
	EventConnectionOpened          = "connection_opened"
	EventConnectionClosed          = "connection_closed"
	EventJoin                      = "join"
	EventJoinRejectedRoomFull      = "join_rejected_room_full"
	EventLeave                     = "leave"
	EventDisconnectCleanup         = "disconnect_cleanup"
	EventRelay                     = "relay"
	EventRelayDroppedUnknownTarget = "relay_dropped_unknown_target"
	EventMalformedMessage          = "malformed_message"
	EventConnRateLimited           = "connection_rate_limited"
	EventSendDroppedQueueFull      = "send_dropped_queue_full"
	EventSendDroppedGone           = "send_dropped_connection_gone"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It exists so routing/lifecycle decisions stay testable without a metrics
// backend; /metrics exposes the counters for scraping.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
