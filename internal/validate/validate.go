// Package validate implements the receive-path checks: session binding,
// replay/ordering, and payload-size limits.
// Validation is pure and side-effect free, and makes no cryptographic
// check — authenticity is the AEAD's job, not this package's.
package validate

import (
	"errors"

	"github.com/kblink/kblink/internal/wire"
)

// Error is the validator's error taxonomy. A rejected packet is dropped
// silently by the caller (no reply) and logged.
var (
	ErrMissingMac      = errors.New("validate: mac missing or wrong length")
	ErrSessionMismatch = errors.New("validate: session id mismatch")
	ErrReplayDetected  = errors.New("validate: replay detected")
	ErrCounterJump     = errors.New("validate: counter jump out of window")
	ErrPayloadTooLarge = errors.New("validate: payload too large")
)

// Packet validates pkt against cfg, an optional expected session id, and
// an optional last-seen counter (nil/absent skips that check — e.g. the
// very first packet of a session has no prior counter to compare against).
//
// Order of checks:
//  1. MAC length
//  2. session binding
//  3. replay/ordering against lastCounter
//  4. payload size vs per-kind limit
//
// Handshake packets are exempt from check 3: counter 0 is reserved for
// Handshake (both HandshakeInit and HandshakeAccept carry it), so two
// handshake packets in a row would otherwise look like a replay of each
// other even though they are distinct messages outside the monotonic
// counter sequence data packets use.
func Packet(pkt wire.Packet, cfg wire.FrameConfig, expectedSession *uint32, lastCounter *uint32) error {
	if len(pkt.MAC) != cfg.MacLen {
		return ErrMissingMac
	}

	if expectedSession != nil && pkt.Header.SessionID != *expectedSession {
		return ErrSessionMismatch
	}

	if lastCounter != nil && pkt.Header.Kind != wire.KindHandshake {
		prev := *lastCounter
		cur := pkt.Header.Counter
		switch {
		case cur == prev:
			return ErrReplayDetected
		case cur < prev:
			return ErrCounterJump
		case cur-prev > wire.ReplayWindowJump:
			return ErrCounterJump
		}
	}

	payload := wire.EncodePayload(pkt.Header.Kind, pkt.Payload)
	if len(payload) > maxPayload(pkt.Header.Kind, cfg) {
		return ErrPayloadTooLarge
	}

	return nil
}

func maxPayload(kind wire.PacketKind, cfg wire.FrameConfig) int {
	if kind == wire.KindHandshake {
		return wire.ChallengeSize
	}
	return cfg.MaxPayloadBytes
}
