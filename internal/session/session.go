// Package session owns the per-endpoint state that makes AEAD nonces
// unique: a session id, a per-session salt, and a monotonic counter,
// with a salt-derived nonce layout that supports session resumption.
package session

import (
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"

	"github.com/kblink/kblink/internal/wire"
)

// ErrCounterExhausted is returned by NextCounterChecked once the session
// counter has saturated at math.MaxUint32. The caller must renegotiate a
// session.
var ErrCounterExhausted = errors.New("session: counter exhausted, renegotiation required")

// Keys owns a session's identity and monotonic counter. The zero value is
// not usable; construct with New or Resume. A Keys value must be owned by
// a single sender goroutine or protected by an external mutex — concurrent
// mutation of the counter is undefined.
type Keys struct {
	sessionID uint32
	salt      [wire.SaltLen]byte
	counter   uint32 // accessed via atomic.*Uint32 so NextCounter can be called from a single sender without its own lock
}

// New creates session state for sessionID with the given salt. The
// counter starts at 1; counter 0 is reserved for handshake packets and is
// never produced by NextCounter.
func New(sessionID uint32, salt [wire.SaltLen]byte) *Keys {
	return &Keys{sessionID: sessionID, salt: salt, counter: 1}
}

// Resume rebuilds session state from persisted (sessionID, salt, counter)
// — the warm-wake path, skipping a fresh handshake. It is equivalent to
// New followed by ResumeFrom(n).
func Resume(sessionID uint32, salt [wire.SaltLen]byte, n uint32) *Keys {
	k := New(sessionID, salt)
	k.ResumeFrom(n)
	return k
}

// SessionID returns the session identifier.
func (k *Keys) SessionID() uint32 { return k.sessionID }

// Salt returns the session's 16-byte salt.
func (k *Keys) Salt() [wire.SaltLen]byte { return k.salt }

// HandshakeNonce returns the nonce for counter 0, used to seal/open
// Handshake packets.
func (k *Keys) HandshakeNonce() [wire.NonceLen]byte {
	return DeriveNonce(k.salt, 0)
}

// NextCounter returns the current counter value and post-increments it,
// saturating at math.MaxUint32 (it keeps returning the maximum rather than
// wrapping, since wrapping would collide nonces). Use NextCounterChecked
// if you need an explicit exhaustion signal instead of silently re-reading
// the saturated value.
func (k *Keys) NextCounter() uint32 {
	for {
		cur := atomic.LoadUint32(&k.counter)
		if cur == math.MaxUint32 {
			return cur
		}
		if atomic.CompareAndSwapUint32(&k.counter, cur, cur+1) {
			return cur
		}
	}
}

// NextCounterChecked is NextCounter's safer sibling: it returns
// ErrCounterExhausted instead of silently returning the saturated value
// again, so an upper layer can trigger rekey deterministically.
func (k *Keys) NextCounterChecked() (uint32, error) {
	for {
		cur := atomic.LoadUint32(&k.counter)
		if cur == math.MaxUint32 {
			return 0, ErrCounterExhausted
		}
		if atomic.CompareAndSwapUint32(&k.counter, cur, cur+1) {
			return cur, nil
		}
	}
}

// Peek returns the current counter value without mutating it.
func (k *Keys) Peek() uint32 {
	return atomic.LoadUint32(&k.counter)
}

// ResetCounter resets the counter to 1 (a fresh handshake on the same
// session id).
func (k *Keys) ResetCounter() {
	atomic.StoreUint32(&k.counter, 1)
}

// ResumeFrom sets the counter to max(n, 1), restoring a persisted
// resume-from-counter hook.
func (k *Keys) ResumeFrom(n uint32) {
	if n < 1 {
		n = 1
	}
	atomic.StoreUint32(&k.counter, n)
}

// NonceFor derives the AEAD nonce for an arbitrary counter value, without
// touching k's own counter. Used by a receiver, which derives nonces from
// counters found on the wire rather than from its own send counter.
func (k *Keys) NonceFor(counter uint32) [wire.NonceLen]byte {
	return DeriveNonce(k.salt, counter)
}

// DeriveNonce renders the 24-byte nonce salt || counter_le || 0x00*4. Two
// distinct (salt, counter) pairs never collide because the layout is
// injective in both fields and a session's counter is strictly monotonic
// at the sender.
func DeriveNonce(salt [wire.SaltLen]byte, counter uint32) [wire.NonceLen]byte {
	var out [wire.NonceLen]byte
	copy(out[0:wire.SaltLen], salt[:])
	binary.LittleEndian.PutUint32(out[wire.SaltLen:wire.SaltLen+4], counter)
	return out
}
