package wire

// Payload is the tagged union carried by a Packet. Exactly one field is
// meaningful per PacketKind; EncodePayload and DecodePayload enforce that
// pairing.
type Payload struct {
	// HandshakeInit (56 bytes: EphPubKey || Nonce), present when Kind is
	// KindHandshake and the payload length is ChallengeSize.
	EphPubKey [KeyLen]byte
	HSNonce   [NonceLen]byte
	HasInit   bool

	// HandshakeAccept (4 bytes LE), present when Kind is KindHandshake and
	// the payload length is HandshakeAcceptSize.
	AcceptSessionID uint32
	HasAccept       bool

	// Control: 1-byte code + variable data.
	ControlCode byte
	ControlData []byte

	// KeyReport: raw key-state bytes.
	Keys []byte

	// Ack: echoed counter.
	AckCounter uint32

	// KeepAlive carries no payload.
}

// NewHandshakeInit builds a Payload for a KindHandshake init message.
func NewHandshakeInit(ephPubKey [KeyLen]byte, nonce [NonceLen]byte) Payload {
	return Payload{EphPubKey: ephPubKey, HSNonce: nonce, HasInit: true}
}

// NewHandshakeAccept builds a Payload for a KindHandshake accept message.
func NewHandshakeAccept(sessionID uint32) Payload {
	return Payload{AcceptSessionID: sessionID, HasAccept: true}
}

// NewControl builds a Payload for a KindControl message.
func NewControl(code byte, data []byte) Payload {
	return Payload{ControlCode: code, ControlData: data}
}

// NewKeyReport builds a Payload for a KindKeyReport message.
func NewKeyReport(keys []byte) Payload {
	return Payload{Keys: keys}
}

// NewAck builds a Payload for a KindAck message.
func NewAck(ackCounter uint32) Payload {
	return Payload{AckCounter: ackCounter}
}
