package aead

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/kblink/kblink/internal/wire"
)

// DeriveKeyPreShared derives a 32-byte RealAdapter key from a pre-shared
// secret and a session salt, for config.HandshakePreShared mode. It stands
// in for the Noise X25519 key-agreement collaborator when no ephemeral
// handshake is negotiated: the salt (unique per session) keeps two sessions
// sharing the same pre-shared secret from ever deriving the same key.
func DeriveKeyPreShared(secret []byte, salt [wire.SaltLen]byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(salt[:])
	mac.Write([]byte("kblink-preshared-v1"))
	return mac.Sum(nil)
}

// NewRealAdapterPreShared builds a RealAdapter whose key is derived from a
// pre-shared secret and session salt via DeriveKeyPreShared, instead of a
// key produced by an external Noise X25519 handshake collaborator.
func NewRealAdapterPreShared(secret []byte, salt [wire.SaltLen]byte) (*RealAdapter, error) {
	return NewRealAdapter(DeriveKeyPreShared(secret, salt))
}
