package events

// NopEmitter discards every metrics, latency, dropped-packet, and error
// event. It's the default when a caller never asked for --events-output,
// so an idle-loop run pays nothing for telemetry it didn't request.
type NopEmitter struct{}

// Emit does nothing.
func (NopEmitter) Emit(EventType, interface{}) {}

// Close does nothing and returns nil.
func (NopEmitter) Close() error { return nil }
