// Package link coordinates session state, the framing pipeline, and a
// radio backend into a send/receive loop with a bounded retransmit policy
// (MAX_RETRANSMIT_ATTEMPTS=1) and RTT tracking against the configured
// latency budget. It is the orchestration layer a firmware idle loop or a
// host test drives; the core packages underneath (wire, validate, aead,
// session, framing) stay synchronous and I/O-free.
package link

import (
	"errors"
	"sync"
	"time"

	"github.com/kblink/kblink/internal/aead"
	"github.com/kblink/kblink/internal/config"
	"github.com/kblink/kblink/internal/events"
	"github.com/kblink/kblink/internal/framing"
	"github.com/kblink/kblink/internal/logging"
	"github.com/kblink/kblink/internal/session"
	"github.com/kblink/kblink/internal/validate"
	"github.com/kblink/kblink/internal/wire"
)

// RadioBackend is the capability a Link sends frames over. Both
// radio.UDPBackend and radio.SimulatorBackend satisfy it.
type RadioBackend interface {
	Transmit(frame []byte) error
	Receive(timeout time.Duration) ([]byte, error)
}

// ErrAckTimeout is returned by SendKeyReport when a needs-ack packet receives no
// matching Ack within the retry budget (initial attempt plus
// wire.MaxRetransmitAttempts retries).
var ErrAckTimeout = errors.New("link: ack timeout after max retransmit attempts")

// Stats holds per-Link counters and RTT tracking.
type Stats struct {
	mu sync.RWMutex

	TxPackets uint64
	TxBytes   uint64
	RxPackets uint64
	RxBytes   uint64

	rttSamples []time.Duration
	rttSum     time.Duration
	rttCurrent time.Duration
}

func (s *Stats) recordTx(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TxPackets++
	s.TxBytes += uint64(n)
}

func (s *Stats) recordRx(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RxPackets++
	s.RxBytes += uint64(n)
}

// AddRTTSample records rtt and keeps a rolling window of the last 20
// samples for the running average.
func (s *Stats) AddRTTSample(rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rttCurrent = rtt
	s.rttSamples = append(s.rttSamples, rtt)
	s.rttSum += rtt
	if len(s.rttSamples) > 20 {
		s.rttSum -= s.rttSamples[0]
		s.rttSamples = s.rttSamples[1:]
	}
}

// RTTCurrent returns the most recently recorded RTT.
func (s *Stats) RTTCurrent() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rttCurrent
}

// RTTAvg returns the running average RTT over the last 20 samples.
func (s *Stats) RTTAvg() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.rttSamples) == 0 {
		return 0
	}
	return s.rttSum / time.Duration(len(s.rttSamples))
}

// Snapshot returns a copy of the tx/rx counters.
func (s *Stats) Snapshot() (txPackets, txBytes, rxPackets, rxBytes uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TxPackets, s.TxBytes, s.RxPackets, s.RxBytes
}

// Link owns the send-side session state and orchestrates one endpoint's
// half of the protocol: seal, transmit, wait for Ack with bounded retry,
// and validated receive. It is the single path by which every packet
// kind — handshake, key report, ack, keepalive — reaches the wire and
// comes back off it; a caller should never seal/open frames directly
// against framing and radio itself once it holds a Link.
type Link struct {
	sess    *session.Keys
	cfg     wire.FrameConfig
	adapter aead.Adapter
	backend RadioBackend
	logger  *logging.Logger
	emitter events.Emitter
	stats   *Stats

	expectedSession *uint32
	lastCounter     *uint32
}

// Config holds Link construction parameters.
type Config struct {
	Session *session.Keys
	Frame   wire.FrameConfig
	Adapter aead.Adapter
	Backend RadioBackend
	Logger  *logging.Logger
	Emitter events.Emitter
}

// New constructs a Link. Logger and Emitter default to an error-level
// stdout logger and events.NopEmitter if nil.
func New(cfg Config) *Link {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.LevelError)
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Link{
		sess:    cfg.Session,
		cfg:     cfg.Frame,
		adapter: cfg.Adapter,
		backend: cfg.Backend,
		logger:  logger,
		emitter: emitter,
		stats:   &Stats{},
	}
}

// Stats returns the Link's running statistics.
func (l *Link) Stats() *Stats { return l.stats }

// BindSession restricts subsequent Receive validation to frames carrying
// sessionID, and seeds lastCounter for replay checking.
func (l *Link) BindSession(sessionID uint32, lastCounter uint32) {
	l.expectedSession = &sessionID
	l.lastCounter = &lastCounter
}

// SendKeyReport seals and transmits a KeyReport carrying keys, with
// NeedsAck set, and waits up to latency.MaxMs for a matching Ack. On
// timeout it retransmits exactly once (wire.MaxRetransmitAttempts=1,
// flags.Retransmit set on the retry) before giving up with
// ErrAckTimeout. It returns the number of transmit attempts made (1 or
// 2) and the RTT of the attempt that succeeded, if any.
func (l *Link) SendKeyReport(lat config.Latency, keys []byte) (attempts int, rtt time.Duration, err error) {
	counter := l.sess.NextCounter()
	header := wire.PacketHeader{
		SessionID: l.sess.SessionID(),
		Counter:   counter,
		Kind:      wire.KindKeyReport,
		Flags:     wire.PacketFlags{Encrypted: true, NeedsAck: true},
	}
	pkt := wire.Packet{Header: header, Payload: wire.NewKeyReport(keys), MAC: make([]byte, l.cfg.MacLen)}

	budget := time.Duration(lat.MaxMs) * time.Millisecond

	for attempts = 1; attempts <= 1+wire.MaxRetransmitAttempts; attempts++ {
		pkt.Header.Flags.Retransmit = attempts > 1

		nonce := l.sess.NonceFor(counter)
		frame, sealErr := framing.SealFramed(pkt, l.cfg, l.adapter, nonce[:])
		if sealErr != nil {
			return attempts, 0, sealErr
		}

		sent := time.Now()
		if txErr := l.backend.Transmit(frame); txErr != nil {
			return attempts, 0, txErr
		}
		l.stats.recordTx(len(frame))

		ackPkt, ok := l.waitForAck(counter, budget)
		if ok {
			rtt = time.Since(sent)
			l.stats.AddRTTSample(rtt)
			l.emitter.Emit(events.EventLatency, events.LatencyData{
				RTTMs:            float64(rtt.Microseconds()) / 1000.0,
				ExceedsThreshold: rtt > time.Duration(lat.MaxMs)*time.Millisecond,
			})
			_ = ackPkt
			return attempts, rtt, nil
		}
	}

	return attempts - 1, 0, ErrAckTimeout
}

// SendRaw seals pkt with the session's nonce for pkt.Header.Counter and
// transmits it once: no retry, no Ack wait, no RTT sample. It is the
// right call for packet kinds that don't expect an Ack — Handshake,
// Ack, and KeepAlive — leaving SendKeyReport as the only retried,
// Ack-waiting send path.
func (l *Link) SendRaw(pkt wire.Packet) error {
	nonce := l.sess.NonceFor(pkt.Header.Counter)
	frame, err := framing.SealFramed(pkt, l.cfg, l.adapter, nonce[:])
	if err != nil {
		return err
	}
	if err := l.backend.Transmit(frame); err != nil {
		return err
	}
	l.stats.recordTx(len(frame))
	return nil
}

// Receive waits up to timeout for the next frame off the backend that
// opens and passes validation, silently skipping anything tampered,
// malformed, or rejected along the way. It reports false once timeout
// elapses with nothing accepted.
func (l *Link) Receive(timeout time.Duration) (wire.Packet, bool) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return wire.Packet{}, false
		}
		frame, err := l.backend.Receive(remaining)
		if err != nil {
			return wire.Packet{}, false
		}
		if pkt, ok := l.openAndValidate(frame); ok {
			return pkt, true
		}
	}
}

// waitForAck polls Receive until budget elapses, looking for a validly
// opened Ack packet whose AckCounter matches counter.
func (l *Link) waitForAck(counter uint32, budget time.Duration) (wire.Packet, bool) {
	deadline := time.Now().Add(budget)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return wire.Packet{}, false
		}
		pkt, ok := l.Receive(remaining)
		if !ok {
			return wire.Packet{}, false
		}
		if pkt.Header.Kind == wire.KindAck && pkt.Payload.AckCounter == counter {
			return pkt, true
		}
	}
}

// openAndValidate opens frame with the session's nonce-for-counter
// derivation (read from the parsed header, since a receiver does not know
// the sender's counter in advance) and runs it through validate.Packet.
// A tampered or malformed frame is dropped silently, with no reply sent.
func (l *Link) openAndValidate(frame []byte) (wire.Packet, bool) {
	hdr, err := wire.DecodeHeader(frame[:min(len(frame), wire.HeaderLen)])
	if err != nil {
		return wire.Packet{}, false
	}
	nonce := l.sess.NonceFor(hdr.Counter)
	pkt, err := framing.OpenFramed(frame, l.cfg, l.adapter, nonce[:])
	if err != nil {
		l.emitter.Emit(events.EventDropped, events.DroppedData{Reason: err.Error()})
		return wire.Packet{}, false
	}
	if err := validate.Packet(pkt, l.cfg, l.expectedSession, l.lastCounter); err != nil {
		l.emitter.Emit(events.EventDropped, events.DroppedData{Reason: err.Error()})
		return wire.Packet{}, false
	}
	if l.lastCounter != nil && pkt.Header.Kind != wire.KindHandshake {
		*l.lastCounter = pkt.Header.Counter
	}
	l.stats.recordRx(len(frame))
	return pkt, true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
