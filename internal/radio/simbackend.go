package radio

import (
	"errors"
	"time"
)

// ErrTimeout is returned by SimulatorBackend.Receive when no frame became
// due within the requested timeout.
var ErrTimeout = errors.New("radio: receive timeout")

// step is the virtual-clock granularity SimulatorBackend advances by while
// polling for a due frame. It only needs to be small relative to JitterMs
// for Receive to observe delivery promptly.
const step = 1 * time.Millisecond

// SimulatorBackend adapts a Simulator to the same Transmit/Receive shape
// UDPBackend exposes, so internal/link's retransmit and RTT-tracking logic
// can run unmodified over either a real UDP socket or the deterministic
// in-memory simulator.
type SimulatorBackend struct {
	sim *Simulator
}

// NewSimulatorBackend wraps sim.
func NewSimulatorBackend(sim *Simulator) *SimulatorBackend {
	return &SimulatorBackend{sim: sim}
}

// Transmit pushes frame onto the simulated channel.
func (b *SimulatorBackend) Transmit(frame []byte) error {
	b.sim.Push(frame)
	return nil
}

// Receive advances the simulator's virtual clock in small steps, polling
// Pop after each, until a frame is due or timeout elapses.
func (b *SimulatorBackend) Receive(timeout time.Duration) ([]byte, error) {
	elapsed := time.Duration(0)
	for {
		if frame, ok := b.sim.Pop(); ok {
			return frame, nil
		}
		if elapsed >= timeout {
			return nil, ErrTimeout
		}
		b.sim.Advance(step)
		elapsed += step
	}
}

// Simulator returns the wrapped Simulator, for reading Stats() directly.
func (b *SimulatorBackend) Simulator() *Simulator { return b.sim }
