package aead

import (
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kblink/kblink/internal/wire"
)

// RealAdapter seals and opens frames with XChaCha20-Poly1305 and a
// detached 16-byte tag. The cipher primitive itself is a collaborator
// (golang.org/x/crypto/chacha20poly1305); this adapter only adapts its
// combined ciphertext||tag output to the detached (ciphertext, mac) shape
// the framing pipeline expects.
type RealAdapter struct {
	key []byte
}

// NewRealAdapter constructs a RealAdapter from a 32-byte key.
func NewRealAdapter(key []byte) (*RealAdapter, error) {
	if len(key) != wire.KeyLen {
		return nil, &ParseError{Err: wire.ErrUnexpectedLength}
	}
	keyCopy := make([]byte, wire.KeyLen)
	copy(keyCopy, key)
	return &RealAdapter{key: keyCopy}, nil
}

// Seal implements Adapter. macLen must equal wire.MACLen (16); any other
// value is rejected before the primitive is touched, since
// chacha20poly1305 only ever produces a 16-byte tag.
func (a *RealAdapter) Seal(nonce, aad, plaintext []byte, macLen int) ([]byte, []byte, error) {
	if err := checkNonceLen(nonce); err != nil {
		return nil, nil, err
	}
	if macLen != wire.MACLen {
		return nil, nil, &SerializeError{Err: wire.ErrMacLengthMismatch}
	}

	cipher, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return nil, nil, authFailed("real_adapter.seal.new_cipher")
	}

	combined := cipher.Seal(nil, nonce, plaintext, aad)
	ctLen := len(combined) - cipher.Overhead()

	ciphertext := make([]byte, ctLen)
	copy(ciphertext, combined[:ctLen])
	mac := make([]byte, cipher.Overhead())
	copy(mac, combined[ctLen:])
	return ciphertext, mac, nil
}

// Open implements Adapter. On any authentication failure it returns
// AuthFailedError tagged "real_adapter.open"; it never reveals partial
// plaintext.
func (a *RealAdapter) Open(nonce, aad, ciphertext, mac []byte) ([]byte, error) {
	if err := checkNonceLen(nonce); err != nil {
		return nil, err
	}
	if len(mac) != wire.MACLen {
		return nil, authFailed("real_adapter.open")
	}

	cipher, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return nil, authFailed("real_adapter.open.new_cipher")
	}

	combined := make([]byte, 0, len(ciphertext)+len(mac))
	combined = append(combined, ciphertext...)
	combined = append(combined, mac...)

	plaintext, err := cipher.Open(nil, nonce, combined, aad)
	if err != nil {
		return nil, authFailed("real_adapter.open")
	}
	return plaintext, nil
}
