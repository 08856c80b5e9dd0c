package link

import (
	"errors"
	"testing"
	"time"

	"github.com/kblink/kblink/internal/aead"
	"github.com/kblink/kblink/internal/config"
	"github.com/kblink/kblink/internal/framing"
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

var errNoFrame = errors.New("test: no frame queued")

// fakeBackend replays a scripted sequence of Receive results and records
// every transmitted frame, so SendKeyReport's retry policy can be driven
// deterministically without a real or simulated radio channel.
type fakeBackend struct {
	transmitted [][]byte
	responses   []func() ([]byte, error)
	callIdx     int
}

func (f *fakeBackend) Transmit(frame []byte) error {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	f.transmitted = append(f.transmitted, buf)
	return nil
}

func (f *fakeBackend) Receive(time.Duration) ([]byte, error) {
	if f.callIdx >= len(f.responses) {
		return nil, errNoFrame
	}
	resp := f.responses[f.callIdx]
	f.callIdx++
	return resp()
}

func sealedAck(t *testing.T, cfg wire.FrameConfig, adapter aead.Adapter, salt [wire.SaltLen]byte, sessionID, ackForCounter, ackPacketCounter uint32) []byte {
	t.Helper()
	peer := session.New(sessionID, salt)
	peer.ResumeFrom(ackPacketCounter)
	pkt := wire.Packet{
		Header:  wire.PacketHeader{SessionID: sessionID, Counter: ackPacketCounter, Kind: wire.KindAck},
		Payload: wire.NewAck(ackForCounter),
		MAC:     make([]byte, cfg.MacLen),
	}
	nonce := peer.NonceFor(ackPacketCounter)
	frame, err := framing.SealFramed(pkt, cfg, adapter, nonce[:])
	if err != nil {
		t.Fatalf("sealedAck: SealFramed() error = %v", err)
	}
	return frame
}

func TestSendKeyReport_SucceedsOnFirstAttempt(t *testing.T) {
	cfg := wire.DefaultFrameConfig()
	adapter := aead.NewSimAdapter()
	salt := testSalt(0x11)
	sess := session.New(1, salt)

	sendCounter := sess.Peek() // the counter SendKeyReport will claim first
	ackFrame := sealedAck(t, cfg, adapter, salt, 1, sendCounter, 100)

	backend := &fakeBackend{responses: []func() ([]byte, error){
		func() ([]byte, error) { return ackFrame, nil },
	}}

	l := New(Config{Session: sess, Frame: cfg, Adapter: adapter, Backend: backend})
	attempts, _, err := l.SendKeyReport(config.Latency{TargetMs: 6, MaxMs: 50}, []byte{0x04})
	if err != nil {
		t.Fatalf("SendKeyReport() error = %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if len(backend.transmitted) != 1 {
		t.Fatalf("transmitted %d frames, want 1", len(backend.transmitted))
	}
}

func TestSendKeyReport_RetransmitsOnceThenSucceeds(t *testing.T) {
	cfg := wire.DefaultFrameConfig()
	adapter := aead.NewSimAdapter()
	salt := testSalt(0x22)
	sess := session.New(1, salt)

	sendCounter := sess.Peek()
	ackFrame := sealedAck(t, cfg, adapter, salt, 1, sendCounter, 200)

	backend := &fakeBackend{responses: []func() ([]byte, error){
		func() ([]byte, error) { return nil, errNoFrame }, // nothing arrives for attempt 1
		func() ([]byte, error) { return ackFrame, nil },   // ack arrives for attempt 2 (retransmit)
	}}

	l := New(Config{Session: sess, Frame: cfg, Adapter: adapter, Backend: backend})
	attempts, _, err := l.SendKeyReport(config.Latency{TargetMs: 6, MaxMs: 50}, []byte{0x04})
	if err != nil {
		t.Fatalf("SendKeyReport() error = %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if len(backend.transmitted) != 2 {
		t.Fatalf("transmitted %d frames, want 2 (original + one retransmit)", len(backend.transmitted))
	}
	hdr, err := wire.DecodeHeader(backend.transmitted[1][:wire.HeaderLen])
	if err != nil {
		t.Fatalf("DecodeHeader() error = %v", err)
	}
	if !hdr.Flags.Retransmit {
		t.Fatal("second transmitted frame should carry the Retransmit flag")
	}
	if backend.transmitted[0] == nil {
		t.Fatal("first attempt should still have been transmitted")
	}
	firstHdr, _ := wire.DecodeHeader(backend.transmitted[0][:wire.HeaderLen])
	if firstHdr.Flags.Retransmit {
		t.Fatal("first transmitted frame must not carry the Retransmit flag")
	}
}

func TestSendKeyReport_ExhaustsRetriesAndFails(t *testing.T) {
	cfg := wire.DefaultFrameConfig()
	adapter := aead.NewSimAdapter()
	salt := testSalt(0x33)
	sess := session.New(1, salt)

	backend := &fakeBackend{responses: []func() ([]byte, error){
		func() ([]byte, error) { return nil, errNoFrame },
		func() ([]byte, error) { return nil, errNoFrame },
	}}

	l := New(Config{Session: sess, Frame: cfg, Adapter: adapter, Backend: backend})
	attempts, _, err := l.SendKeyReport(config.Latency{TargetMs: 6, MaxMs: 50}, []byte{0x04})
	if err != ErrAckTimeout {
		t.Fatalf("SendKeyReport() error = %v, want ErrAckTimeout", err)
	}
	if attempts != wire.MaxRetransmitAttempts+1 {
		t.Fatalf("attempts = %d, want %d", attempts, wire.MaxRetransmitAttempts+1)
	}
	if len(backend.transmitted) != wire.MaxRetransmitAttempts+1 {
		t.Fatalf("transmitted %d frames, want %d", len(backend.transmitted), wire.MaxRetransmitAttempts+1)
	}
}

func TestSendKeyReport_IgnoresAckForWrongCounter(t *testing.T) {
	cfg := wire.DefaultFrameConfig()
	adapter := aead.NewSimAdapter()
	salt := testSalt(0x44)
	sess := session.New(1, salt)

	sendCounter := sess.Peek()
	staleAck := sealedAck(t, cfg, adapter, salt, 1, sendCounter+999, 10)
	goodAck := sealedAck(t, cfg, adapter, salt, 1, sendCounter, 11)

	backend := &fakeBackend{responses: []func() ([]byte, error){
		func() ([]byte, error) { return staleAck, nil },
		func() ([]byte, error) { return goodAck, nil },
	}}

	l := New(Config{Session: sess, Frame: cfg, Adapter: adapter, Backend: backend})
	attempts, _, err := l.SendKeyReport(config.Latency{TargetMs: 6, MaxMs: 50}, []byte{0x04})
	if err != nil {
		t.Fatalf("SendKeyReport() error = %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (stale ack is ignored, not a retransmit trigger)", attempts)
	}
}

func TestStats_RTTTrackingAndSnapshot(t *testing.T) {
	cfg := wire.DefaultFrameConfig()
	adapter := aead.NewSimAdapter()
	salt := testSalt(0x55)
	sess := session.New(1, salt)

	sendCounter := sess.Peek()
	ackFrame := sealedAck(t, cfg, adapter, salt, 1, sendCounter, 1)

	backend := &fakeBackend{responses: []func() ([]byte, error){
		func() ([]byte, error) { return ackFrame, nil },
	}}

	l := New(Config{Session: sess, Frame: cfg, Adapter: adapter, Backend: backend})
	if _, _, err := l.SendKeyReport(config.Latency{TargetMs: 6, MaxMs: 50}, []byte{0x04}); err != nil {
		t.Fatalf("SendKeyReport() error = %v", err)
	}

	txPackets, txBytes, _, _ := l.Stats().Snapshot()
	if txPackets != 1 {
		t.Fatalf("TxPackets = %d, want 1", txPackets)
	}
	if txBytes == 0 {
		t.Fatal("TxBytes should be nonzero after a successful send")
	}
	if l.Stats().RTTAvg() < 0 {
		t.Fatal("RTTAvg should never be negative")
	}
}
