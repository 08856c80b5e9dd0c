// Package timeline builds the canonical wake/auth/report/idle packet
// sequence: a deterministic script of packets a keyboard endpoint emits
// across one cold-wake cycle, used by tests as the reference sequence.
// cmd/kblinksim does not use it; it builds its packets itself.
package timeline

import (
	"github.com/kblink/kblink/internal/session"
	"github.com/kblink/kblink/internal/wire"
)

// Stage names each step of the canonical sequence, for logs and metrics.
type Stage string

const (
	StageWake   Stage = "wake"
	StageAuth   Stage = "auth"
	StageReport Stage = "report"
	StageIdle   Stage = "idle"
)

// Step is one packet in the canonical sequence, plus the Stage it
// belongs to.
type Step struct {
	Stage  Stage
	Packet wire.Packet
}

// Build renders the canonical sequence for sess starting at its current
// counter: a Handshake init (counter 0, stage "wake"), a Handshake accept
// echoing sess's session id (stage "auth"), one KeyReport per entry in
// keyReports (stage "report", one counter each), an Ack for the last key
// report (stage "report"), and a KeepAlive (stage "idle"). macLen-byte
// zero MACs are attached as placeholders — callers seal the frame (which
// overwrites the MAC) before transmitting.
func Build(sess *session.Keys, ephPubKey [wire.KeyLen]byte, hsNonce [wire.NonceLen]byte, keyReports [][]byte, macLen int) []Step {
	zeroMAC := func() []byte { return make([]byte, macLen) }

	steps := make([]Step, 0, 2+len(keyReports)+2)

	steps = append(steps, Step{
		Stage: StageWake,
		Packet: wire.Packet{
			Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: 0, Kind: wire.KindHandshake, Flags: wire.PacketFlags{Encrypted: true}},
			Payload: wire.NewHandshakeInit(ephPubKey, hsNonce),
			MAC:     zeroMAC(),
		},
	})

	steps = append(steps, Step{
		Stage: StageAuth,
		Packet: wire.Packet{
			Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: 0, Kind: wire.KindHandshake, Flags: wire.PacketFlags{Encrypted: true}},
			Payload: wire.NewHandshakeAccept(sess.SessionID()),
			MAC:     zeroMAC(),
		},
	})

	var lastCounter uint32
	for _, keys := range keyReports {
		c := sess.NextCounter()
		lastCounter = c
		steps = append(steps, Step{
			Stage: StageReport,
			Packet: wire.Packet{
				Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: c, Kind: wire.KindKeyReport, Flags: wire.PacketFlags{Encrypted: true, NeedsAck: true}},
				Payload: wire.NewKeyReport(keys),
				MAC:     zeroMAC(),
			},
		})
	}

	if len(keyReports) > 0 {
		ackCounter := sess.NextCounter()
		steps = append(steps, Step{
			Stage: StageReport,
			Packet: wire.Packet{
				Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: ackCounter, Kind: wire.KindAck, Flags: wire.PacketFlags{Encrypted: true}},
				Payload: wire.NewAck(lastCounter),
				MAC:     zeroMAC(),
			},
		})
	}

	idleCounter := sess.NextCounter()
	steps = append(steps, Step{
		Stage: StageIdle,
		Packet: wire.Packet{
			Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: idleCounter, Kind: wire.KindKeepAlive, Flags: wire.PacketFlags{Encrypted: true}},
			Payload: wire.Payload{},
			MAC:     zeroMAC(),
		},
	})

	return steps
}
