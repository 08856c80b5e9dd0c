// Package radio provides the channel abstraction the framing pipeline
// sends sealed frames over: an in-memory deterministic simulator for
// tests and host demos, plus a thin UDP adapter for host-to-host demo
// runs. Neither backend carries protocol logic of its own — they ship
// opaque sealed frames end to end.
package radio

import "time"

// Config is the simulator's immutable configuration.
type Config struct {
	// DropFirst discards exactly the first frame ever pushed.
	DropFirst bool
	// Reorder swaps the last two queued entries on every push once the
	// queue holds at least two entries.
	Reorder bool
	// JitterMs is added to the virtual clock's current time to compute
	// each frame's delivery time.
	JitterMs uint64
}

// Stats is a snapshot of the simulator's counters.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	NowMs     uint64
}

type entry struct {
	deliverAtMs uint64
	frame       []byte
}

// Simulator is a single-sender, single-receiver in-memory queue that
// models drop, reorder, and jitter deterministically — no PRNG, so every
// test run is byte-for-byte reproducible.
type Simulator struct {
	cfg Config

	nowMs     uint64
	queue     []entry
	delivered uint64
	dropped   uint64
	seenFirst bool
}

// New constructs a Simulator with the given configuration. The virtual
// clock starts at 0.
func New(cfg Config) *Simulator {
	return &Simulator{cfg: cfg}
}

// Push enqueues frame for delivery. If cfg.DropFirst is set and this is
// the very first push this simulator has ever seen, the frame is
// discarded and Dropped is incremented instead. Otherwise it is enqueued
// with deliverAt = now + JitterMs; if cfg.Reorder is set and the queue
// then holds at least two entries, the last two are swapped — a
// deterministic perturbation that exercises out-of-order delivery without
// needing randomness.
func (s *Simulator) Push(frame []byte) {
	if s.cfg.DropFirst && !s.seenFirst {
		s.seenFirst = true
		s.dropped++
		return
	}
	s.seenFirst = true

	buf := make([]byte, len(frame))
	copy(buf, frame)

	s.queue = append(s.queue, entry{deliverAtMs: s.nowMs + s.cfg.JitterMs, frame: buf})

	if s.cfg.Reorder && len(s.queue) >= 2 {
		n := len(s.queue)
		s.queue[n-1], s.queue[n-2] = s.queue[n-2], s.queue[n-1]
	}
}

// Advance moves the virtual clock forward by dt, saturating rather than
// overflowing.
func (s *Simulator) Advance(dt time.Duration) {
	add := uint64(dt.Milliseconds())
	if s.nowMs+add < s.nowMs {
		s.nowMs = ^uint64(0)
		return
	}
	s.nowMs += add
}

// Pop returns and removes the first queue entry whose deliverAt has
// elapsed, in queue order (so a prior Reorder's swap is what the caller
// observes). Returns (nil, false) if nothing is due yet.
func (s *Simulator) Pop() ([]byte, bool) {
	for i, e := range s.queue {
		if e.deliverAtMs <= s.nowMs {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.delivered++
			return e.frame, true
		}
	}
	return nil, false
}

// Stats returns a snapshot of the simulator's counters and virtual clock.
func (s *Simulator) Stats() Stats {
	return Stats{Delivered: s.delivered, Dropped: s.dropped, NowMs: s.nowMs}
}

// Len returns the number of frames currently queued (due or not yet due).
func (s *Simulator) Len() int { return len(s.queue) }
