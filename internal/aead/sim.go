package aead

import (
	"crypto/subtle"
	"encoding/binary"
)

// SimAdapter is an explicitly non-cryptographic AEAD stand-in used only by
// tests and the host simulator. Plaintext passes through unchanged; the
// "MAC" is a deterministic function of (aad, payload, nonce) produced by
// iterating a weak 32-bit mixer. It exists so the framing pipeline, the
// radio simulator, and the timeline helpers can exercise tamper detection
// and round-tripping without needing a real key.
type SimAdapter struct{}

// NewSimAdapter constructs a SimAdapter. It carries no state: the mixer is
// a pure function of its inputs.
func NewSimAdapter() *SimAdapter { return &SimAdapter{} }

// mix32 is a xorshift-style integer mixer. It has no cryptographic
// properties; it exists only to make the simulation MAC sensitive to every
// input byte so tamper tests (flip one byte, expect AuthFailed) work.
func mix32(x uint32) uint32 {
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	return x
}

// simMAC derives a macLen-byte tag deterministically from aad, payload,
// and nonce. Every input byte is folded into the mixer state one at a
// time; the tag is then squeezed out four bytes per round, each round
// adding a constant and advancing the mixer state.
func simMAC(aad, payload, nonce []byte, macLen int) []byte {
	state := uint32(0x9E3779B9)
	for _, b := range aad {
		state = mix32(state ^ uint32(b))
	}
	for _, b := range payload {
		state = mix32(state ^ uint32(b)<<8)
	}
	for _, b := range nonce {
		state = mix32(state ^ uint32(b)<<16)
	}

	out := make([]byte, 0, macLen)
	for len(out) < macLen {
		state = mix32(state + 0x6D2B79F5)
		var chunk [4]byte
		binary.LittleEndian.PutUint32(chunk[:], state)
		out = append(out, chunk[:]...)
	}
	return out[:macLen]
}

// Seal implements Adapter: ciphertext is a copy of plaintext (length
// preserved), and mac is simMAC(aad, plaintext, nonce).
func (SimAdapter) Seal(nonce, aad, plaintext []byte, macLen int) ([]byte, []byte, error) {
	if err := checkNonceLen(nonce); err != nil {
		return nil, nil, err
	}
	ciphertext := make([]byte, len(plaintext))
	copy(ciphertext, plaintext)
	return ciphertext, simMAC(aad, plaintext, nonce, macLen), nil
}

// Open implements Adapter: plaintext is a copy of ciphertext, accepted only
// if mac constant-time-equals simMAC(aad, ciphertext, nonce). Comparison is
// constant-time so tests exercising this adapter never learn to rely on
// timing side channels.
func (SimAdapter) Open(nonce, aad, ciphertext, mac []byte) ([]byte, error) {
	if err := checkNonceLen(nonce); err != nil {
		return nil, err
	}
	expected := simMAC(aad, ciphertext, nonce, len(mac))
	if len(expected) != len(mac) || subtle.ConstantTimeCompare(expected, mac) != 1 {
		return nil, authFailed("sim_adapter.open")
	}
	plaintext := make([]byte, len(ciphertext))
	copy(plaintext, ciphertext)
	return plaintext, nil
}
