// kblinksim is a host-side simulator for the keyboard link protocol: it
// drives one endpoint's wake/auth/report/idle packet timeline through a
// deterministic in-memory radio channel (or a real UDP socket, in
// peer-to-peer mode) and emits a JSON Line metrics record summarizing
// what happened to the --events-output destination (discarded when that
// flag is unset).
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/kblink/kblink/internal/aead"
	"github.com/kblink/kblink/internal/config"
	"github.com/kblink/kblink/internal/events"
	"github.com/kblink/kblink/internal/framing"
	"github.com/kblink/kblink/internal/link"
	"github.com/kblink/kblink/internal/logging"
	"github.com/kblink/kblink/internal/radio"
	"github.com/kblink/kblink/internal/session"
	"github.com/kblink/kblink/internal/wire"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const (
	defaultLogLevel      = "info"
	defaultJitterMs      = 2
	defaultKeyReports    = 1
	defaultHandshakeWait = 5 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "sim":
		runSim(args)
	case "peer":
		runPeer(args)
	case "version", "--version", "-v":
		fmt.Printf("kblinksim %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`kblinksim - wireless keyboard link simulator

Usage:
  kblinksim <command> [flags]

Commands:
  sim      Run one endpoint's wake/auth/report/idle timeline over a
           deterministic simulated radio channel
  peer     Run the same timeline over a real UDP socket against a second
           kblinksim peer process
  version  Print version information

Flags for sim:
  --drop-first      Drop the very first transmitted frame (default: true)
  --reorder         Swap the last two queued frames on every push (default: true)
  --jitter-ms       Per-frame delivery jitter in milliseconds (default: 2)
  --key-reports     Number of KeyReport packets to simulate (default: 1)
  --real-aead       Use XChaCha20-Poly1305 instead of the deterministic test adapter
  --key             32-byte hex AEAD key for --real-aead (random if omitted)
  --pre-shared      Hex pre-shared secret; derives the AEAD key via HMAC-SHA256
                     instead of --key, simulating security.handshake=pre_shared
  --log             Log level: error|warn|info|debug|trace (default: info)
  --events-output   Write JSON Line events to: stdout, stderr, or a file path

Flags for peer:
  --role            listen|dial (default: listen)
  --local-port      Local UDP port to bind
  --peer-addr       Peer host:port (required with --role=dial)
  --session-id      Shared session id, decimal or 0x-prefixed hex (default: 0xCAFEBABE)
  --salt            16-byte hex salt (32 hex digits) agreed out of band with the peer (required)
  --key-reports     Number of KeyReport packets the dial side sends (default: 1)
  --real-aead       Use XChaCha20-Poly1305 instead of the deterministic test adapter
  --key             32-byte hex AEAD key (required with --real-aead unless --pre-shared is set)
  --pre-shared      Hex pre-shared secret; derives the AEAD key via HMAC-SHA256
  --log             Log level: error|warn|info|debug|trace (default: info)
  --events-output   Write JSON Line events to: stdout, stderr, or a file path

Examples:
  kblinksim sim
  kblinksim sim --drop-first=false --jitter-ms=5 --key-reports=3
  kblinksim sim --real-aead --key 0011223344556677889900112233445566778899001122334455667788990011

  kblinksim peer --role=listen --local-port=9000 --salt 00112233445566778899aabbccddeeff
  kblinksim peer --role=dial --local-port=9001 --peer-addr=127.0.0.1:9000 --salt 00112233445566778899aabbccddeeff
`)
}

// loopbackAckBackend wraps a SimulatorBackend to stand in for the
// keyboard receiver's half of the exchange: whenever a KeyReport frame
// passes through Transmit, it opens it with the same session keys and
// pushes a matching Ack back onto the same simulated channel. Without it
// link.SendKeyReport would never see an Ack and the sim command's
// bounded-retransmit path would be unreachable.
type loopbackAckBackend struct {
	*radio.SimulatorBackend
	cfg     wire.FrameConfig
	adapter aead.Adapter
	sess    *session.Keys
}

func (b *loopbackAckBackend) Transmit(frame []byte) error {
	if err := b.SimulatorBackend.Transmit(frame); err != nil {
		return err
	}
	if len(frame) < wire.HeaderLen {
		return nil
	}
	hdr, err := wire.DecodeHeader(frame[:wire.HeaderLen])
	if err != nil || hdr.Kind != wire.KindKeyReport {
		return nil
	}
	nonce := b.sess.NonceFor(hdr.Counter)
	pkt, err := framing.OpenFramed(frame, b.cfg, b.adapter, nonce[:])
	if err != nil {
		return nil
	}
	ackCounter := b.sess.NextCounter()
	ack := wire.Packet{
		Header:  wire.PacketHeader{SessionID: pkt.Header.SessionID, Counter: ackCounter, Kind: wire.KindAck, Flags: wire.PacketFlags{Encrypted: true}},
		Payload: wire.NewAck(pkt.Header.Counter),
		MAC:     make([]byte, b.cfg.MacLen),
	}
	ackNonce := b.sess.NonceFor(ackCounter)
	ackFrame, err := framing.SealFramed(ack, b.cfg, b.adapter, ackNonce[:])
	if err != nil {
		return nil
	}
	return b.SimulatorBackend.Transmit(ackFrame)
}

func runSim(args []string) {
	fs := flag.NewFlagSet("sim", flag.ExitOnError)

	dropFirst := fs.Bool("drop-first", true, "drop the first transmitted frame")
	reorder := fs.Bool("reorder", true, "swap the last two queued frames on every push")
	jitterMs := fs.Uint("jitter-ms", defaultJitterMs, "per-frame delivery jitter in milliseconds")
	keyReports := fs.Uint("key-reports", defaultKeyReports, "number of KeyReport packets to simulate")
	realAEAD := fs.Bool("real-aead", false, "use XChaCha20-Poly1305 instead of the deterministic test adapter")
	keyHex := fs.String("key", "", "32-byte hex AEAD key (random if omitted)")
	preSharedHex := fs.String("pre-shared", "", "pre-shared secret (hex) to derive the AEAD key from instead of --key, simulating security.handshake=pre_shared")
	logLevel := fs.String("log", defaultLogLevel, "log level: error|warn|info|debug|trace")
	eventsOutput := fs.String("events-output", "", "write JSON Line events to stdout, stderr, or a file path")

	fs.Parse(args)

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(level)

	emitter, err := createEmitter(*eventsOutput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating event emitter: %v\n", err)
		os.Exit(1)
	}
	defer emitter.Close()

	cfg := config.Demo()
	frameCfg := wire.FrameConfig{MacLen: cfg.Security.MacLen, MaxPayloadBytes: int(cfg.MaxPayloadBytes)}

	var salt [wire.SaltLen]byte
	if _, err := rand.Read(salt[:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating salt: %v\n", err)
		os.Exit(1)
	}
	sess := session.New(0xCAFEBABE, salt)

	adapter, err := buildAdapter(*realAEAD, *keyHex, *preSharedHex, salt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sim := radio.New(radio.Config{DropFirst: *dropFirst, Reorder: *reorder, JitterMs: uint64(*jitterMs)})
	backend := &loopbackAckBackend{
		SimulatorBackend: radio.NewSimulatorBackend(sim),
		cfg:              frameCfg,
		adapter:          adapter,
		sess:             sess,
	}

	lnk := link.New(link.Config{
		Session: sess,
		Frame:   frameCfg,
		Adapter: adapter,
		Backend: backend,
		Logger:  logger,
		Emitter: emitter,
	})
	lnk.BindSession(sess.SessionID(), 0)

	popTimeout := time.Duration((*jitterMs+1)*4) * time.Millisecond

	var ephPubKey [wire.KeyLen]byte
	if _, err := rand.Read(ephPubKey[:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating ephemeral key: %v\n", err)
		os.Exit(1)
	}
	var hsNonce [wire.NonceLen]byte
	if _, err := rand.Read(hsNonce[:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating handshake nonce: %v\n", err)
		os.Exit(1)
	}

	attempts, delivered := 0, 0

	sendAndLog := func(stage string, pkt wire.Packet) {
		attempts++
		if err := lnk.SendRaw(pkt); err != nil {
			logger.Error("seal failed at stage %s: %v", stage, err)
			return
		}
		got, ok := lnk.Receive(popTimeout)
		if !ok {
			logger.Warn("frame dropped at stage %s", stage)
			emitter.Emit(events.EventDropped, events.DroppedData{Reason: "channel drop"})
			return
		}
		delivered++
		logger.Info("stage=%s kind=%s counter=%d delivered", stage, got.Header.Kind, got.Header.Counter)
	}

	sendAndLog("wake", wire.Packet{
		Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: 0, Kind: wire.KindHandshake, Flags: wire.PacketFlags{Encrypted: true}},
		Payload: wire.NewHandshakeInit(ephPubKey, hsNonce),
		MAC:     make([]byte, frameCfg.MacLen),
	})

	sendAndLog("auth", wire.Packet{
		Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: 0, Kind: wire.KindHandshake, Flags: wire.PacketFlags{Encrypted: true}},
		Payload: wire.NewHandshakeAccept(sess.SessionID()),
		MAC:     make([]byte, frameCfg.MacLen),
	})

	var lastRTT time.Duration
	for i := 0; i < int(*keyReports); i++ {
		keys := []byte{byte(0x04 + i)}
		n, rtt, err := lnk.SendKeyReport(cfg.Latency, keys)
		attempts += n
		if err != nil {
			logger.Warn("key report %d failed after %d attempt(s): %v", i, n, err)
			emitter.Emit(events.EventDropped, events.DroppedData{Reason: err.Error()})
			continue
		}
		delivered++
		lastRTT = rtt
		logger.Info("stage=report key report %d delivered in %d attempt(s), rtt=%s", i, n, rtt)
		emitter.Emit(events.EventLatency, events.LatencyData{
			RTTMs:            float64(rtt.Microseconds()) / 1000.0,
			ExceedsThreshold: rtt > cfg.MaxLatency(),
		})
	}

	sendAndLog("idle", wire.Packet{
		Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: sess.NextCounter(), Kind: wire.KindKeepAlive, Flags: wire.PacketFlags{Encrypted: true}},
		Payload: wire.Payload{},
		MAC:     make([]byte, frameCfg.MacLen),
	})

	stats := sim.Stats()
	emitter.Emit(events.EventMetrics, events.MetricsData{
		Attempts:      attempts,
		Delivered:     stats.Delivered,
		Dropped:       stats.Dropped,
		LatencyMs:     float64(lastRTT.Microseconds()) / 1000.0,
		JitterMs:      uint64(*jitterMs),
		DropFirst:     *dropFirst,
		Reorder:       *reorder,
		MockRFEnabled: true,
		RealAEAD:      *realAEAD,
	})

	logger.Info("done: %d/%d stages delivered, channel delivered=%d dropped=%d", delivered, 3+int(*keyReports), stats.Delivered, stats.Dropped)
}

// runPeer drives the same wake/auth/report/idle sequence as sim, but over
// a real radio.UDPBackend against a second kblinksim process instead of
// the in-memory simulator. The listen role plays the keyboard receiver
// (accepts the handshake, acks each KeyReport); the dial role plays the
// keyboard transmitter (initiates the handshake, sends KeyReports through
// link.SendKeyReport's bounded retransmit).
func runPeer(args []string) {
	fs := flag.NewFlagSet("peer", flag.ExitOnError)

	role := fs.String("role", "listen", "peer role: listen|dial")
	localPort := fs.Uint("local-port", 9000, "local UDP port")
	peerAddr := fs.String("peer-addr", "", "peer host:port (required with --role=dial)")
	sessionID := fs.Uint64("session-id", 0xCAFEBABE, "shared session id")
	saltHex := fs.String("salt", "", "16-byte hex salt agreed out of band with the peer")
	keyReports := fs.Uint("key-reports", defaultKeyReports, "number of KeyReport packets the dial side sends")
	realAEAD := fs.Bool("real-aead", false, "use XChaCha20-Poly1305 instead of the deterministic test adapter")
	keyHex := fs.String("key", "", "32-byte hex AEAD key")
	preSharedHex := fs.String("pre-shared", "", "pre-shared secret (hex) to derive the AEAD key from instead of --key")
	logLevel := fs.String("log", defaultLogLevel, "log level: error|warn|info|debug|trace")
	eventsOutput := fs.String("events-output", "", "write JSON Line events to stdout, stderr, or a file path")

	fs.Parse(args)

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(level)

	emitter, err := createEmitter(*eventsOutput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating event emitter: %v\n", err)
		os.Exit(1)
	}
	defer emitter.Close()

	if *saltHex == "" {
		fmt.Fprintln(os.Stderr, "Error: --salt is required and must match between peers")
		os.Exit(1)
	}
	decodedSalt, err := hex.DecodeString(*saltHex)
	if err != nil || len(decodedSalt) != wire.SaltLen {
		fmt.Fprintf(os.Stderr, "Error: --salt must be %d hex bytes\n", wire.SaltLen)
		os.Exit(1)
	}
	var salt [wire.SaltLen]byte
	copy(salt[:], decodedSalt)

	if *realAEAD && *keyHex == "" && *preSharedHex == "" {
		fmt.Fprintln(os.Stderr, "Error: --real-aead requires --key or --pre-shared so both peers share the AEAD key")
		os.Exit(1)
	}

	adapter, err := buildAdapter(*realAEAD, *keyHex, *preSharedHex, salt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var backend *radio.UDPBackend
	switch *role {
	case "listen":
		backend, err = radio.Listen(uint16(*localPort), logger)
	case "dial":
		if *peerAddr == "" {
			fmt.Fprintln(os.Stderr, "Error: --peer-addr is required with --role=dial")
			os.Exit(1)
		}
		backend, err = radio.Dial(uint16(*localPort), *peerAddr, logger)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown --role %q, want listen|dial\n", *role)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close()

	cfg := config.Demo()
	frameCfg := wire.FrameConfig{MacLen: cfg.Security.MacLen, MaxPayloadBytes: int(cfg.MaxPayloadBytes)}
	sess := session.New(uint32(*sessionID), salt)

	lnk := link.New(link.Config{
		Session: sess,
		Frame:   frameCfg,
		Adapter: adapter,
		Backend: backend,
		Logger:  logger,
		Emitter: emitter,
	})
	lnk.BindSession(sess.SessionID(), 0)

	if *role == "dial" {
		runPeerDial(lnk, sess, cfg, frameCfg, logger, emitter, int(*keyReports))
	} else {
		runPeerListen(lnk, sess, frameCfg, logger, int(*keyReports))
	}

	txPackets, txBytes, rxPackets, rxBytes := lnk.Stats().Snapshot()
	emitter.Emit(events.EventMetrics, events.MetricsData{
		Attempts:  int(txPackets),
		Delivered: rxPackets,
		RealAEAD:  *realAEAD,
	})
	logger.Info("done: tx=%d (%d bytes) rx=%d (%d bytes)", txPackets, txBytes, rxPackets, rxBytes)
}

func runPeerDial(lnk *link.Link, sess *session.Keys, cfg config.Config, frameCfg wire.FrameConfig, logger *logging.Logger, emitter events.Emitter, keyReports int) {
	var ephPubKey [wire.KeyLen]byte
	if _, err := rand.Read(ephPubKey[:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating ephemeral key: %v\n", err)
		os.Exit(1)
	}
	var hsNonce [wire.NonceLen]byte
	if _, err := rand.Read(hsNonce[:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating handshake nonce: %v\n", err)
		os.Exit(1)
	}

	initPkt := wire.Packet{
		Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: 0, Kind: wire.KindHandshake, Flags: wire.PacketFlags{Encrypted: true}},
		Payload: wire.NewHandshakeInit(ephPubKey, hsNonce),
		MAC:     make([]byte, frameCfg.MacLen),
	}
	if err := lnk.SendRaw(initPkt); err != nil {
		logger.Error("sending handshake init: %v", err)
		return
	}
	logger.Info("sent handshake init, waiting for accept")

	accept, ok := lnk.Receive(defaultHandshakeWait)
	if !ok || accept.Header.Kind != wire.KindHandshake {
		logger.Error("no handshake accept within %s", defaultHandshakeWait)
		return
	}
	logger.Info("handshake accept received for session 0x%08x", accept.Payload.AcceptSessionID)

	for i := 0; i < keyReports; i++ {
		keys := []byte{byte(0x04 + i)}
		attempts, rtt, err := lnk.SendKeyReport(cfg.Latency, keys)
		if err != nil {
			logger.Warn("key report %d failed after %d attempt(s): %v", i, attempts, err)
			emitter.Emit(events.EventDropped, events.DroppedData{Reason: err.Error()})
			continue
		}
		logger.Info("key report %d delivered in %d attempt(s), rtt=%s", i, attempts, rtt)
		emitter.Emit(events.EventLatency, events.LatencyData{
			RTTMs:            float64(rtt.Microseconds()) / 1000.0,
			ExceedsThreshold: rtt > cfg.MaxLatency(),
		})
	}

	idlePkt := wire.Packet{
		Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: sess.NextCounter(), Kind: wire.KindKeepAlive, Flags: wire.PacketFlags{Encrypted: true}},
		Payload: wire.Payload{},
		MAC:     make([]byte, frameCfg.MacLen),
	}
	if err := lnk.SendRaw(idlePkt); err != nil {
		logger.Error("sending keepalive: %v", err)
		return
	}
	logger.Info("sent keepalive, done")
}

func runPeerListen(lnk *link.Link, sess *session.Keys, frameCfg wire.FrameConfig, logger *logging.Logger, keyReports int) {
	init, ok := lnk.Receive(defaultHandshakeWait)
	if !ok || init.Header.Kind != wire.KindHandshake {
		logger.Error("no handshake init within %s", defaultHandshakeWait)
		return
	}
	logger.Info("handshake init received")

	acceptPkt := wire.Packet{
		Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: 0, Kind: wire.KindHandshake, Flags: wire.PacketFlags{Encrypted: true}},
		Payload: wire.NewHandshakeAccept(sess.SessionID()),
		MAC:     make([]byte, frameCfg.MacLen),
	}
	if err := lnk.SendRaw(acceptPkt); err != nil {
		logger.Error("sending handshake accept: %v", err)
		return
	}
	logger.Info("sent handshake accept")

	received := 0
	for received < keyReports {
		pkt, ok := lnk.Receive(defaultHandshakeWait)
		if !ok {
			logger.Warn("timed out waiting for key report %d/%d", received+1, keyReports)
			break
		}
		if pkt.Header.Kind != wire.KindKeyReport {
			continue
		}
		received++
		ackPkt := wire.Packet{
			Header:  wire.PacketHeader{SessionID: sess.SessionID(), Counter: sess.NextCounter(), Kind: wire.KindAck, Flags: wire.PacketFlags{Encrypted: true}},
			Payload: wire.NewAck(pkt.Header.Counter),
			MAC:     make([]byte, frameCfg.MacLen),
		}
		if err := lnk.SendRaw(ackPkt); err != nil {
			logger.Error("sending ack for counter %d: %v", pkt.Header.Counter, err)
			continue
		}
		logger.Info("acked key report counter=%d", pkt.Header.Counter)
	}

	if idle, ok := lnk.Receive(defaultHandshakeWait); ok && idle.Header.Kind == wire.KindKeepAlive {
		logger.Info("received keepalive, peer going idle")
	}
}

func buildAdapter(realAEAD bool, keyHex, preSharedHex string, salt [wire.SaltLen]byte) (aead.Adapter, error) {
	if !realAEAD {
		return aead.NewSimAdapter(), nil
	}
	if preSharedHex != "" {
		secret, err := hex.DecodeString(preSharedHex)
		if err != nil {
			return nil, fmt.Errorf("decoding --pre-shared: %w", err)
		}
		return aead.NewRealAdapterPreShared(secret, salt)
	}
	var key []byte
	if keyHex == "" {
		key = make([]byte, wire.KeyLen)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating random key: %w", err)
		}
	} else {
		decoded, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("decoding --key: %w", err)
		}
		key = decoded
	}
	return aead.NewRealAdapter(key)
}

func createEmitter(output string) (events.Emitter, error) {
	switch output {
	case "":
		return events.NopEmitter{}, nil
	case "stdout":
		return events.NewJSONLineWriter(os.Stdout), nil
	case "stderr":
		return events.NewJSONLineWriter(os.Stderr), nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening events output file %q: %w", output, err)
		}
		return events.NewJSONLineWriter(f), nil
	}
}
