// Package aead defines the sealing/opening capability the framing pipeline
// depends on, plus two adapters: a real XChaCha20-Poly1305 cipher and a
// deterministic non-cryptographic adapter used only by tests and the host
// simulator. It is a narrow two-method capability interface: no shared
// state, no virtual-call hierarchy.
package aead

import (
	"errors"
	"fmt"

	"github.com/kblink/kblink/internal/wire"
)

// Adapter is the narrow sealing/opening capability. It has no shared
// state beyond what an implementation needs to hold its key, and no
// virtual-call hierarchy: just seal and open.
type Adapter interface {
	Seal(nonce, aad, plaintext []byte, macLen int) (ciphertext, mac []byte, err error)
	Open(nonce, aad, ciphertext, mac []byte) (plaintext []byte, err error)
}

// ErrAuthFailed is returned, wrapped with a context tag, whenever a tag
// fails to verify or the underlying primitive otherwise rejects input.
// The receiver cannot distinguish "wrong key" from "tampered frame" from
// this error alone.
var ErrAuthFailed = errors.New("aead: authentication failed")

// AuthFailedError wraps ErrAuthFailed with a short call-site tag so logs
// can tell which seal/open call rejected a frame without leaking why.
type AuthFailedError struct {
	Context string
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAuthFailed, e.Context)
}

func (e *AuthFailedError) Unwrap() error { return ErrAuthFailed }

func authFailed(context string) error {
	return &AuthFailedError{Context: context}
}

// ParseError wraps wire.ErrUnexpectedLength-class failures detected by an
// adapter itself (e.g. a nonce of the wrong length), distinct from
// authentication failures.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("aead: parse: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// SerializeError wraps wire.ErrMacLengthMismatch-class failures (a caller
// requesting a MAC length the adapter cannot produce).
type SerializeError struct {
	Err error
}

func (e *SerializeError) Error() string { return fmt.Sprintf("aead: serialize: %v", e.Err) }
func (e *SerializeError) Unwrap() error { return e.Err }

func checkNonceLen(nonce []byte) error {
	if len(nonce) != wire.NonceLen {
		return &ParseError{Err: wire.ErrUnexpectedLength}
	}
	return nil
}
