// Package framing combines the wire codec with an AEAD adapter into the
// sealed send/receive pipeline: SealFramed and OpenFramed. Neither
// function does any I/O; they are called by a sender immediately before
// transmit and by a receiver immediately after a frame arrives off the
// simulated (or real) radio channel.
package framing

import (
	"encoding/binary"

	"github.com/kblink/kblink/internal/aead"
	"github.com/kblink/kblink/internal/wire"
)

// SealFramed serializes pkt, seals its payload with adapter under nonce,
// and renders the on-wire frame: header || u16_le(len(ciphertext)) ||
// ciphertext || mac. The AAD covers the plaintext payload length; because
// every adapter in this repo preserves length, the declared on-wire length
// equals both the plaintext length and the AAD's length field — an AEAD
// that expands ciphertext is not compatible with this framing.
func SealFramed(pkt wire.Packet, cfg wire.FrameConfig, adapter aead.Adapter, nonce []byte) ([]byte, error) {
	s, err := wire.SerializePacket(pkt, cfg)
	if err != nil {
		return nil, err
	}

	ciphertext, mac, err := adapter.Seal(nonce, s.AAD[:], s.PayloadRaw, cfg.MacLen)
	if err != nil {
		return nil, err
	}

	hdr := wire.EncodeHeader(s.Header)
	out := make([]byte, 0, wire.HeaderLen+2+len(ciphertext)+len(mac))
	out = append(out, hdr[:]...)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(ciphertext)))
	out = append(out, lenBuf[:]...)
	out = append(out, ciphertext...)
	out = append(out, mac...)
	return out, nil
}

// OpenFramed parses b as a frame, recomputes the AAD from the parsed
// header and declared ciphertext length, opens it with adapter under
// nonce, and decodes the resulting plaintext payload. Any tamper — a
// flipped header bit, a flipped ciphertext byte, a truncated MAC, or the
// wrong nonce — surfaces as an AuthFailedError or a wire parse error,
// never as silent acceptance.
func OpenFramed(b []byte, cfg wire.FrameConfig, adapter aead.Adapter, nonce []byte) (wire.Packet, error) {
	if len(b) < wire.HeaderLen+2 {
		return wire.Packet{}, wire.ErrUnexpectedLength
	}
	hdr, err := wire.DecodeHeader(b[0:wire.HeaderLen])
	if err != nil {
		return wire.Packet{}, err
	}

	declaredLen := int(binary.LittleEndian.Uint16(b[wire.HeaderLen : wire.HeaderLen+2]))
	rest := b[wire.HeaderLen+2:]
	if declaredLen > len(rest) {
		return wire.Packet{}, wire.ErrUnexpectedLength
	}
	ciphertext := rest[:declaredLen]
	mac := rest[declaredLen:]
	if len(mac) != cfg.MacLen {
		return wire.Packet{}, wire.ErrMacLengthMismatch
	}
	if limit := payloadLimit(hdr.Kind, cfg); declaredLen > limit {
		return wire.Packet{}, wire.ErrUnexpectedLength
	}

	aad := wire.AssociatedData(hdr, declaredLen)

	plaintext, err := adapter.Open(nonce, aad[:], ciphertext, mac)
	if err != nil {
		return wire.Packet{}, err
	}

	payload, err := wire.DecodePayload(hdr.Kind, plaintext)
	if err != nil {
		return wire.Packet{}, err
	}

	macCopy := make([]byte, len(mac))
	copy(macCopy, mac)
	return wire.Packet{Header: hdr, Payload: payload, MAC: macCopy}, nil
}

func payloadLimit(kind wire.PacketKind, cfg wire.FrameConfig) int {
	if kind == wire.KindHandshake {
		return wire.ChallengeSize
	}
	return cfg.MaxPayloadBytes
}
