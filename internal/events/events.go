// Package events provides structured event emission for diagnostics and
// the metrics record the host CLI emits per run.
package events

import "time"

// EventType identifies the kind of event.
type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventMetrics      EventType = "metrics"
	EventLatency      EventType = "latency"
	EventDropped      EventType = "dropped"
	EventError        EventType = "error"
)

// Envelope wraps every emitted event with type and timestamp.
type Envelope struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StateChangedData is the payload for state_changed events.
type StateChangedData struct {
	State string `json:"state"`
}

// MetricsData is the host CLI's metrics record: per-run
// counters plus the simulator configuration that produced them.
type MetricsData struct {
	Attempts      int     `json:"attempts"`
	Delivered     uint64  `json:"delivered"`
	Dropped       uint64  `json:"dropped"`
	LatencyMs     float64 `json:"latency_ms"`
	JitterMs      uint64  `json:"jitter_ms"`
	DropFirst     bool    `json:"drop_first"`
	Reorder       bool    `json:"reorder"`
	MockRFEnabled bool    `json:"mock_rf_enabled"`
	RealAEAD      bool    `json:"real_aead"`
}

// LatencyData is the payload for latency events.
type LatencyData struct {
	RTTMs            float64 `json:"rtt_ms"`
	ExceedsThreshold bool    `json:"exceeds_threshold"`
}

// DroppedData is the payload for dropped-packet events.
type DroppedData struct {
	Reason string `json:"reason"`
}

// ErrorData is the payload for error events.
type ErrorData struct {
	Message string `json:"message"`
}

// Emitter is the interface for emitting structured events.
type Emitter interface {
	Emit(eventType EventType, data interface{})
	Close() error
}
