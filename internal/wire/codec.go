package wire

import (
	"encoding/binary"
	"fmt"
)

// EncodeHeader renders h into its fixed 10-byte little-endian layout:
// session_id[0..4] || counter[4..8] || kind[8] || flags[9].
func EncodeHeader(h PacketHeader) [HeaderLen]byte {
	var out [HeaderLen]byte
	binary.LittleEndian.PutUint32(out[0:4], h.SessionID)
	binary.LittleEndian.PutUint32(out[4:8], h.Counter)
	out[8] = byte(h.Kind)
	out[9] = h.Flags.Byte()
	return out
}

// DecodeHeader parses exactly HeaderLen bytes into a PacketHeader.
func DecodeHeader(b []byte) (PacketHeader, error) {
	if len(b) != HeaderLen {
		return PacketHeader{}, ErrUnexpectedLength
	}
	kind, ok := kindFromByte(b[8])
	if !ok {
		return PacketHeader{}, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, b[8])
	}
	return PacketHeader{
		SessionID: binary.LittleEndian.Uint32(b[0:4]),
		Counter:   binary.LittleEndian.Uint32(b[4:8]),
		Kind:      kind,
		Flags:     FlagsFromByte(b[9]),
	}, nil
}

// AssociatedData derives the 12-byte AEAD associated data for h and a
// declared payload length: encode_header(h) || u16_le(payload_len).
func AssociatedData(h PacketHeader, payloadLen int) [AADLen]byte {
	var out [AADLen]byte
	hdr := EncodeHeader(h)
	copy(out[0:HeaderLen], hdr[:])
	binary.LittleEndian.PutUint16(out[HeaderLen:], uint16(payloadLen))
	return out
}

// EncodePayload renders p according to kind. It is infallible: callers
// are expected to have built Payload values that match their declared
// kind (NewHandshakeInit for KindHandshake, etc).
func EncodePayload(kind PacketKind, p Payload) []byte {
	switch kind {
	case KindHandshake:
		if p.HasAccept {
			out := make([]byte, HandshakeAcceptSize)
			binary.LittleEndian.PutUint32(out, p.AcceptSessionID)
			return out
		}
		out := make([]byte, ChallengeSize)
		copy(out[0:KeyLen], p.EphPubKey[:])
		copy(out[KeyLen:], p.HSNonce[:])
		return out
	case KindControl:
		out := make([]byte, 1+len(p.ControlData))
		out[0] = p.ControlCode
		copy(out[1:], p.ControlData)
		return out
	case KindKeyReport:
		out := make([]byte, len(p.Keys))
		copy(out, p.Keys)
		return out
	case KindAck:
		out := make([]byte, AckPayloadSize)
		binary.LittleEndian.PutUint32(out, p.AckCounter)
		return out
	case KindKeepAlive:
		return nil
	default:
		return nil
	}
}

// DecodePayload parses payload bytes according to kind, enforcing the
// per-kind length rules. The two Handshake variants are disambiguated by
// length: 56 bytes is Init, 4 bytes is Accept; any other length under
// KindHandshake is a parse error.
func DecodePayload(kind PacketKind, payload []byte) (Payload, error) {
	switch kind {
	case KindHandshake:
		switch len(payload) {
		case ChallengeSize:
			var key [KeyLen]byte
			var nonce [NonceLen]byte
			copy(key[:], payload[0:KeyLen])
			copy(nonce[:], payload[KeyLen:])
			return NewHandshakeInit(key, nonce), nil
		case HandshakeAcceptSize:
			return NewHandshakeAccept(binary.LittleEndian.Uint32(payload)), nil
		default:
			return Payload{}, ErrUnexpectedLength
		}
	case KindControl:
		if len(payload) < 1 {
			return Payload{}, ErrUnexpectedLength
		}
		data := make([]byte, len(payload)-1)
		copy(data, payload[1:])
		return NewControl(payload[0], data), nil
	case KindKeyReport:
		keys := make([]byte, len(payload))
		copy(keys, payload)
		return NewKeyReport(keys), nil
	case KindAck:
		if len(payload) != AckPayloadSize {
			return Payload{}, ErrUnexpectedLength
		}
		return NewAck(binary.LittleEndian.Uint32(payload)), nil
	case KindKeepAlive:
		if len(payload) != KeepAlivePayloadSize {
			return Payload{}, ErrUnexpectedLength
		}
		return Payload{}, nil
	default:
		return Payload{}, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}

// Serialized is the plaintext components ready for AEAD sealing.
type Serialized struct {
	Header     PacketHeader
	PayloadRaw []byte
	AAD        [AADLen]byte
}

// SerializePacket validates pkt against cfg and renders its plaintext
// payload, ready for an AEAD seal step. It fails with ErrPayloadTooLarge
// if the payload exceeds the per-kind limit, or ErrMacLengthMismatch if
// pkt.MAC does not already carry exactly cfg.MacLen bytes (the MAC is
// overwritten by the sealing step, but its placeholder must already be
// sized correctly — a caller building a Packet pre-seal allocates
// make([]byte, cfg.MacLen) for this field).
func SerializePacket(pkt Packet, cfg FrameConfig) (Serialized, error) {
	payload := EncodePayload(pkt.Header.Kind, pkt.Payload)
	if len(payload) > payloadLimit(pkt.Header.Kind, cfg) || len(payload) >= 1<<16 {
		return Serialized{}, ErrPayloadTooLarge
	}
	if len(pkt.MAC) != cfg.MacLen {
		return Serialized{}, ErrMacLengthMismatch
	}
	return Serialized{
		Header:     pkt.Header,
		PayloadRaw: payload,
		AAD:        AssociatedData(pkt.Header, len(payload)),
	}, nil
}

// SerializeFramed renders a fully plaintext frame (no AEAD applied):
// header || u16_le(payload_len) || payload || mac. It is used by tests
// that exercise the codec independent of AEAD.
func SerializeFramed(pkt Packet, cfg FrameConfig) ([]byte, error) {
	s, err := SerializePacket(pkt, cfg)
	if err != nil {
		return nil, err
	}
	if len(pkt.MAC) != cfg.MacLen {
		return nil, ErrMacLengthMismatch
	}
	hdr := EncodeHeader(s.Header)
	out := make([]byte, 0, HeaderLen+2+len(s.PayloadRaw)+cfg.MacLen)
	out = append(out, hdr[:]...)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s.PayloadRaw)))
	out = append(out, lenBuf[:]...)
	out = append(out, s.PayloadRaw...)
	out = append(out, pkt.MAC...)
	return out, nil
}

// ParseFramed reads a frame: header, then the declared u16_le payload
// length, then exactly that many payload bytes, then the remaining bytes
// as MAC. It never assumes AEAD has been applied; callers that need
// authenticated opening use the framing package instead.
func ParseFramed(b []byte, cfg FrameConfig) (Packet, error) {
	if len(b) < HeaderLen+2 {
		return Packet{}, ErrUnexpectedLength
	}
	hdr, err := DecodeHeader(b[0:HeaderLen])
	if err != nil {
		return Packet{}, err
	}
	declaredLen := int(binary.LittleEndian.Uint16(b[HeaderLen : HeaderLen+2]))
	if declaredLen > payloadLimit(hdr.Kind, cfg) {
		return Packet{}, ErrUnexpectedLength
	}
	rest := b[HeaderLen+2:]
	if declaredLen > len(rest) {
		return Packet{}, ErrUnexpectedLength
	}
	payload := rest[:declaredLen]
	mac := rest[declaredLen:]
	if len(mac) != cfg.MacLen {
		return Packet{}, ErrMacLengthMismatch
	}
	p, err := DecodePayload(hdr.Kind, payload)
	if err != nil {
		return Packet{}, err
	}
	macCopy := make([]byte, len(mac))
	copy(macCopy, mac)
	return Packet{Header: hdr, Payload: p, MAC: macCopy}, nil
}
