package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodePayload_Handshake(t *testing.T) {
	var key [KeyLen]byte
	var nonce [NonceLen]byte
	for i := range key {
		key[i] = byte(i)
	}
	for i := range nonce {
		nonce[i] = byte(i + 1)
	}
	p := NewHandshakeInit(key, nonce)
	enc := EncodePayload(KindHandshake, p)
	if len(enc) != ChallengeSize {
		t.Fatalf("encoded handshake init len = %d, want %d", len(enc), ChallengeSize)
	}
	dec, err := DecodePayload(KindHandshake, enc)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if !dec.HasInit || dec.EphPubKey != key || dec.HSNonce != nonce {
		t.Fatalf("decoded handshake init mismatch: %+v", dec)
	}
}

func TestEncodeDecodePayload_HandshakeAccept(t *testing.T) {
	p := NewHandshakeAccept(0xCAFEBABE)
	enc := EncodePayload(KindHandshake, p)
	if len(enc) != HandshakeAcceptSize {
		t.Fatalf("encoded accept len = %d, want %d", len(enc), HandshakeAcceptSize)
	}
	dec, err := DecodePayload(KindHandshake, enc)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if !dec.HasAccept || dec.AcceptSessionID != 0xCAFEBABE {
		t.Fatalf("decoded handshake accept mismatch: %+v", dec)
	}
}

func TestDecodePayload_HandshakeBadLength(t *testing.T) {
	if _, err := DecodePayload(KindHandshake, make([]byte, 10)); err != ErrUnexpectedLength {
		t.Fatalf("expected ErrUnexpectedLength, got %v", err)
	}
}

func TestEncodeDecodePayload_KeyReport(t *testing.T) {
	keys := []byte{0x04, 0x05, 0x1A}
	enc := EncodePayload(KindKeyReport, NewKeyReport(keys))
	dec, err := DecodePayload(KindKeyReport, enc)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if !bytes.Equal(dec.Keys, keys) {
		t.Fatalf("decoded keys = % x, want % x", dec.Keys, keys)
	}
}

func TestEncodeDecodePayload_Ack(t *testing.T) {
	enc := EncodePayload(KindAck, NewAck(17))
	dec, err := DecodePayload(KindAck, enc)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if dec.AckCounter != 17 {
		t.Fatalf("decoded ack counter = %d, want 17", dec.AckCounter)
	}
}

func TestEncodeDecodePayload_KeepAlive(t *testing.T) {
	enc := EncodePayload(KindKeepAlive, Payload{})
	if len(enc) != 0 {
		t.Fatalf("keepalive payload len = %d, want 0", len(enc))
	}
	if _, err := DecodePayload(KindKeepAlive, enc); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
}

func TestSerializeParseFramed_RoundTrip(t *testing.T) {
	cfg := DefaultFrameConfig()
	pkt := Packet{
		Header:  PacketHeader{SessionID: 1, Counter: 5, Kind: KindKeyReport, Flags: PacketFlags{Encrypted: true}},
		Payload: NewKeyReport([]byte{0x04}),
		MAC:     bytes.Repeat([]byte{0xAB}, cfg.MacLen),
	}
	frame, err := SerializeFramed(pkt, cfg)
	if err != nil {
		t.Fatalf("SerializeFramed() error = %v", err)
	}
	got, err := ParseFramed(frame, cfg)
	if err != nil {
		t.Fatalf("ParseFramed() error = %v", err)
	}
	if got.Header != pkt.Header {
		t.Fatalf("parsed header = %+v, want %+v", got.Header, pkt.Header)
	}
	if !bytes.Equal(got.Payload.Keys, pkt.Payload.Keys) {
		t.Fatalf("parsed keys = % x, want % x", got.Payload.Keys, pkt.Payload.Keys)
	}
}

func TestSerializePacket_PayloadTooLarge(t *testing.T) {
	cfg := DefaultFrameConfig()
	pkt := Packet{
		Header:  PacketHeader{Kind: KindKeyReport},
		Payload: NewKeyReport(make([]byte, cfg.MaxPayloadBytes+1)),
	}
	if _, err := SerializePacket(pkt, cfg); err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestSerializeFramed_MacLengthMismatch(t *testing.T) {
	cfg := DefaultFrameConfig()
	pkt := Packet{
		Header: PacketHeader{Kind: KindKeepAlive},
		MAC:    []byte{0x01},
	}
	if _, err := SerializeFramed(pkt, cfg); err != ErrMacLengthMismatch {
		t.Fatalf("expected ErrMacLengthMismatch, got %v", err)
	}
}

func TestParseFramed_TruncatedInput(t *testing.T) {
	cfg := DefaultFrameConfig()
	if _, err := ParseFramed(make([]byte, 3), cfg); err != ErrUnexpectedLength {
		t.Fatalf("expected ErrUnexpectedLength, got %v", err)
	}
}

func FuzzParseFramed(f *testing.F) {
	cfg := DefaultFrameConfig()
	pkt := Packet{
		Header:  PacketHeader{SessionID: 1, Counter: 1, Kind: KindKeyReport},
		Payload: NewKeyReport([]byte{0x04}),
		MAC:     bytes.Repeat([]byte{0x00}, cfg.MacLen),
	}
	seed, err := SerializeFramed(pkt, cfg)
	if err == nil {
		f.Add(seed)
	}
	f.Add(make([]byte, HeaderLen+2))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = ParseFramed(data, cfg)
	})
}
