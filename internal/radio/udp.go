package radio

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kblink/kblink/internal/logging"
)

// Default socket buffer sizes for the UDP backend.
const (
	DefaultReadBuffer  = 65536
	DefaultWriteBuffer = 65536
)

// ErrNotConnected is returned by Transmit/Receive before a peer address is
// known (listen mode, before the first datagram arrives).
var ErrNotConnected = errors.New("radio: no peer address set")

// UDPBackend implements a RadioBackend over a UDP socket, for
// host-to-host demo runs. It carries no protocol logic of its own — no
// handshake, no codec — it only ships opaque sealed frames end to end,
// keeping a clean boundary between the core and its transport
// collaborator.
type UDPBackend struct {
	conn     *net.UDPConn
	peerAddr *net.UDPAddr
	logger   *logging.Logger
	readBuf  []byte
}

// Listen binds to localPort and returns a UDPBackend ready to Receive.
// The peer address becomes known on the first successful Receive.
func Listen(localPort uint16, logger *logging.Logger) (*UDPBackend, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(localPort)})
	if err != nil {
		return nil, fmt.Errorf("radio: bind to port %d: %w", localPort, err)
	}
	configureBuffers(conn, logger)
	return &UDPBackend{conn: conn, logger: logger, readBuf: make([]byte, DefaultReadBuffer)}, nil
}

// Dial binds a local UDP socket and targets peerAddr for Transmit.
func Dial(localPort uint16, peerAddr string, logger *logging.Logger) (*UDPBackend, error) {
	addr, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("radio: resolve peer %q: %w", peerAddr, err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(localPort)})
	if err != nil {
		return nil, fmt.Errorf("radio: bind local port: %w", err)
	}
	configureBuffers(conn, logger)
	return &UDPBackend{conn: conn, peerAddr: addr, logger: logger, readBuf: make([]byte, DefaultReadBuffer)}, nil
}

func configureBuffers(conn *net.UDPConn, logger *logging.Logger) {
	if err := conn.SetReadBuffer(DefaultReadBuffer); err != nil && logger != nil {
		logger.Warn("radio: failed to set read buffer: %v", err)
	}
	if err := conn.SetWriteBuffer(DefaultWriteBuffer); err != nil && logger != nil {
		logger.Warn("radio: failed to set write buffer: %v", err)
	}
}

// Transmit sends frame to the known peer.
func (u *UDPBackend) Transmit(frame []byte) error {
	if u.peerAddr == nil {
		return ErrNotConnected
	}
	_, err := u.conn.WriteToUDP(frame, u.peerAddr)
	return err
}

// Receive reads the next frame, waiting up to timeout. It records the
// sender's address as the peer for subsequent Transmit calls (listen
// mode's first datagram discovers the peer).
func (u *UDPBackend) Receive(timeout time.Duration) ([]byte, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	n, addr, err := u.conn.ReadFromUDP(u.readBuf)
	if err != nil {
		return nil, err
	}
	u.peerAddr = addr
	out := make([]byte, n)
	copy(out, u.readBuf[:n])
	return out, nil
}

// Close closes the underlying socket.
func (u *UDPBackend) Close() error {
	return u.conn.Close()
}
