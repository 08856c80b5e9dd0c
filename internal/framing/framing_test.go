package framing

import (
	"testing"

	"github.com/kblink/kblink/internal/aead"
	"github.com/kblink/kblink/internal/session"
	"github.com/kblink/kblink/internal/wire"
)

func testSalt(b byte) [wire.SaltLen]byte {
	var s [wire.SaltLen]byte
	for i := range s {
		s[i] = b
	}
	return s
}

func keyReportPacket(sessionID, counter uint32, keys []byte, macLen int) wire.Packet {
	return wire.Packet{
		Header: wire.PacketHeader{
			SessionID: sessionID,
			Counter:   counter,
			Kind:      wire.KindKeyReport,
			Flags:     wire.PacketFlags{Encrypted: true, NeedsAck: true},
		},
		Payload: wire.NewKeyReport(keys),
		MAC:     make([]byte, macLen),
	}
}

// S2/S3 — cold handshake then key report, sealed/opened with the sim
// adapter, and tamper detection on a flipped byte.
func TestSealOpenFramed_RoundTripsWithSimAdapter(t *testing.T) {
	cfg := wire.DefaultFrameConfig()
	adapter := aead.NewSimAdapter()
	sess := session.New(0xCAFEBABE, testSalt(0x11))

	var ephKey [wire.KeyLen]byte
	var hsNonce [wire.NonceLen]byte
	for i := range ephKey {
		ephKey[i] = byte(i)
	}
	handshakePkt := wire.Packet{
		Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: 0, Kind: wire.KindHandshake, Flags: wire.PacketFlags{Encrypted: true}},
		Payload: wire.NewHandshakeInit(ephKey, hsNonce),
		MAC:     make([]byte, cfg.MacLen),
	}
	hsNonceBytes := sess.HandshakeNonce()
	hsFrame, err := SealFramed(handshakePkt, cfg, adapter, hsNonceBytes[:])
	if err != nil {
		t.Fatalf("SealFramed(handshake) error = %v", err)
	}
	gotHS, err := OpenFramed(hsFrame, cfg, adapter, hsNonceBytes[:])
	if err != nil {
		t.Fatalf("OpenFramed(handshake) error = %v", err)
	}
	if gotHS.Header != handshakePkt.Header {
		t.Fatalf("handshake header mismatch: got %+v, want %+v", gotHS.Header, handshakePkt.Header)
	}

	counter := sess.NextCounter()
	pkt := keyReportPacket(sess.SessionID(), counter, []byte{0x04}, cfg.MacLen)
	nonce := sess.NonceFor(counter)
	frame, err := SealFramed(pkt, cfg, adapter, nonce[:])
	if err != nil {
		t.Fatalf("SealFramed() error = %v", err)
	}
	got, err := OpenFramed(frame, cfg, adapter, nonce[:])
	if err != nil {
		t.Fatalf("OpenFramed() error = %v", err)
	}
	if got.Header != pkt.Header {
		t.Fatalf("header mismatch: got %+v, want %+v", got.Header, pkt.Header)
	}
	if got.Payload.Keys[0] != 0x04 {
		t.Fatalf("payload mismatch: got %+v", got.Payload)
	}
}

func TestOpenFramed_TamperedSessionIDFailsAuth(t *testing.T) {
	cfg := wire.DefaultFrameConfig()
	adapter := aead.NewSimAdapter()
	sess := session.New(0xCAFEBABE, testSalt(0x11))
	counter := sess.NextCounter()
	pkt := keyReportPacket(sess.SessionID(), counter, []byte{0x04}, cfg.MacLen)
	nonce := sess.NonceFor(counter)
	frame, err := SealFramed(pkt, cfg, adapter, nonce[:])
	if err != nil {
		t.Fatalf("SealFramed() error = %v", err)
	}

	frame[0] ^= 0xFF

	if _, err := OpenFramed(frame, cfg, adapter, nonce[:]); err == nil {
		t.Fatal("expected error after tampering with session_id byte")
	}
}

func TestOpenFramed_TamperedCiphertextFailsAuth(t *testing.T) {
	cfg := wire.DefaultFrameConfig()
	adapter := aead.NewSimAdapter()
	sess := session.New(0xCAFEBABE, testSalt(0x11))
	counter := sess.NextCounter()
	pkt := keyReportPacket(sess.SessionID(), counter, []byte{0x04}, cfg.MacLen)
	nonce := sess.NonceFor(counter)
	frame, err := SealFramed(pkt, cfg, adapter, nonce[:])
	if err != nil {
		t.Fatalf("SealFramed() error = %v", err)
	}

	frame[wire.HeaderLen+2] ^= 0xFF

	if _, err := OpenFramed(frame, cfg, adapter, nonce[:]); err == nil {
		t.Fatal("expected error after tampering with ciphertext byte")
	}
}

func TestOpenFramed_TruncatedMacFails(t *testing.T) {
	cfg := wire.DefaultFrameConfig()
	adapter := aead.NewSimAdapter()
	sess := session.New(0xCAFEBABE, testSalt(0x11))
	counter := sess.NextCounter()
	pkt := keyReportPacket(sess.SessionID(), counter, []byte{0x04}, cfg.MacLen)
	nonce := sess.NonceFor(counter)
	frame, err := SealFramed(pkt, cfg, adapter, nonce[:])
	if err != nil {
		t.Fatalf("SealFramed() error = %v", err)
	}

	truncated := frame[:len(frame)-1]

	if _, err := OpenFramed(truncated, cfg, adapter, nonce[:]); err != wire.ErrMacLengthMismatch {
		t.Fatalf("OpenFramed() error = %v, want ErrMacLengthMismatch", err)
	}
}

func TestOpenFramed_WrongNonceFailsAuth(t *testing.T) {
	cfg := wire.DefaultFrameConfig()
	adapter := aead.NewSimAdapter()
	sess := session.New(0xCAFEBABE, testSalt(0x11))
	counter := sess.NextCounter()
	pkt := keyReportPacket(sess.SessionID(), counter, []byte{0x04}, cfg.MacLen)
	nonce := sess.NonceFor(counter)
	frame, err := SealFramed(pkt, cfg, adapter, nonce[:])
	if err != nil {
		t.Fatalf("SealFramed() error = %v", err)
	}

	wrongNonce := sess.NonceFor(counter + 1)
	if _, err := OpenFramed(frame, cfg, adapter, wrongNonce[:]); err == nil {
		t.Fatal("expected error when opening with the wrong nonce")
	}
}

func TestSealFramed_PayloadTooLarge(t *testing.T) {
	cfg := wire.FrameConfig{MacLen: wire.MACLen, MaxPayloadBytes: 2}
	adapter := aead.NewSimAdapter()
	pkt := keyReportPacket(1, 1, []byte{1, 2, 3}, cfg.MacLen)
	nonce := make([]byte, wire.NonceLen)
	if _, err := SealFramed(pkt, cfg, adapter, nonce); err != wire.ErrPayloadTooLarge {
		t.Fatalf("SealFramed() error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestSealOpenFramed_RealAdapterRoundTrips(t *testing.T) {
	cfg := wire.DefaultFrameConfig()
	key := make([]byte, wire.KeyLen)
	for i := range key {
		key[i] = byte(i)
	}
	adapter, err := aead.NewRealAdapter(key)
	if err != nil {
		t.Fatalf("NewRealAdapter() error = %v", err)
	}
	sess := session.New(1, testSalt(0x22))
	counter := sess.NextCounter()
	pkt := keyReportPacket(sess.SessionID(), counter, []byte{0xAA, 0xBB}, cfg.MacLen)
	nonce := sess.NonceFor(counter)

	frame, err := SealFramed(pkt, cfg, adapter, nonce[:])
	if err != nil {
		t.Fatalf("SealFramed() error = %v", err)
	}
	got, err := OpenFramed(frame, cfg, adapter, nonce[:])
	if err != nil {
		t.Fatalf("OpenFramed() error = %v", err)
	}
	if len(got.Payload.Keys) != 2 || got.Payload.Keys[0] != 0xAA || got.Payload.Keys[1] != 0xBB {
		t.Fatalf("payload mismatch: got %+v", got.Payload)
	}

	frame[len(frame)-1] ^= 0xFF
	if _, err := OpenFramed(frame, cfg, adapter, nonce[:]); err == nil {
		t.Fatal("expected error after flipping a MAC byte with the real adapter")
	}
}
