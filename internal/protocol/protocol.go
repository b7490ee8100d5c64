// Package protocol defines the packet layer: connection phases, the closed
// per-phase packet id tables, and typed encode/decode for every packet. The
// id tables are the protocol; an id outside its phase's table does not decode,
// and a packet cannot be encoded into a phase it does not belong to.
package protocol

import (
	"errors"
	"fmt"

	"ironcraft.dev/internal/codec"
)

// ProtocolVersion is negotiated in the handshake. A mismatch is rejected
// during login, not at handshake time, so status pings from any version work.
const ProtocolVersion = 1

// Handshake Next field values.
const (
	NextStatus = 1
	NextLogin  = 2
)

// Phase is a connection protocol state. Transitions only ever move forward:
// Handshake to Status or Login, Login to Config, Config to Play, anything to
// Closed.
type Phase uint8

const (
	PhaseHandshake Phase = iota
	PhaseStatus
	PhaseLogin
	PhaseConfig
	PhasePlay
	PhaseClosed
)

var phaseNames = [...]string{"handshake", "status", "login", "config", "play", "closed"}

func (p Phase) String() string {
	if int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
	return phaseNames[p]
}

var (
	// ErrUnknownPacket is returned when a packet id is not in the current
	// phase's table. Callers decide tolerance: pre-login phases may skip the
	// frame, later phases must treat it as a violation.
	ErrUnknownPacket = errors.New("unknown packet id")

	// ErrTrailingBytes is returned when a packet body decodes successfully
	// but leaves unconsumed bytes in the frame.
	ErrTrailingBytes = errors.New("trailing bytes after packet body")

	// ErrIllegalPhase is returned when encoding a packet into a phase whose
	// table does not carry it.
	ErrIllegalPhase = errors.New("packet illegal in phase")
)

// Packet is one protocol message. Every packet belongs to exactly one phase
// and one id; direction legality lives in the serverbound/clientbound tables.
type Packet interface {
	Phase() Phase
	ID() int32
	Encode(e *codec.Encoder)
	Decode(d *codec.Decoder) error
}

// serverbound is the client→server id table; clientbound the reverse. The
// keepalive packets appear in both directions under the same id.
var serverbound = map[Phase]map[int32]func() Packet{
	PhaseHandshake: {
		0x00: func() Packet { return new(Handshake) },
	},
	PhaseStatus: {
		0x00: func() Packet { return new(StatusRequest) },
		0x01: func() Packet { return new(PingRequest) },
	},
	PhaseLogin: {
		0x00: func() Packet { return new(LoginStart) },
		0x01: func() Packet { return new(LoginAck) },
	},
	PhaseConfig: {
		0x00: func() Packet { return new(ClientInformation) },
		0x01: func() Packet { return new(FinishConfigAck) },
		0x02: func() Packet { return new(ConfigKeepAlive) },
	},
	PhasePlay: {
		0x00: func() Packet { return new(PlayKeepAlive) },
		0x01: func() Packet { return new(PlayerPosition) },
		0x02: func() Packet { return new(ChatCommand) },
	},
}

var clientbound = map[Phase]map[int32]func() Packet{
	PhaseStatus: {
		0x00: func() Packet { return new(StatusResponse) },
		0x01: func() Packet { return new(PongResponse) },
	},
	PhaseLogin: {
		0x00: func() Packet { return new(LoginDisconnect) },
		0x01: func() Packet { return new(LoginSuccess) },
		0x02: func() Packet { return new(SetCompression) },
	},
	PhaseConfig: {
		0x00: func() Packet { return new(ConfigDisconnect) },
		0x01: func() Packet { return new(FinishConfig) },
		0x02: func() Packet { return new(ConfigKeepAlive) },
	},
	PhasePlay: {
		0x00: func() Packet { return new(PlayKeepAlive) },
		0x01: func() Packet { return new(ChunkData) },
		0x02: func() Packet { return new(UnloadChunk) },
		0x03: func() Packet { return new(PlayDisconnect) },
		0x04: func() Packet { return new(SystemMessage) },
	},
}

// DecodeServerbound decodes a client→server frame payload: the leading packet
// id varint selects the constructor, the body must decode fully, and any
// bytes left over are ErrTrailingBytes.
func DecodeServerbound(phase Phase, body []byte) (Packet, error) {
	return decode(serverbound, phase, body)
}

// DecodeClientbound decodes a server→client frame payload (client side).
func DecodeClientbound(phase Phase, body []byte) (Packet, error) {
	return decode(clientbound, phase, body)
}

// EncodeClientbound encodes a server→client packet, refusing ids that are
// not legal in the given phase.
func EncodeClientbound(phase Phase, p Packet) ([]byte, error) {
	return encode(clientbound, phase, p)
}

// EncodeServerbound encodes a client→server packet (client side).
func EncodeServerbound(phase Phase, p Packet) ([]byte, error) {
	return encode(serverbound, phase, p)
}

func decode(table map[Phase]map[int32]func() Packet, phase Phase, body []byte) (Packet, error) {
	d := codec.NewDecoder(body)
	id, err := d.Varint()
	if err != nil {
		return nil, fmt.Errorf("packet id: %w", err)
	}
	ctor, ok := table[phase][id]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x in %v", ErrUnknownPacket, id, phase)
	}
	p := ctor()
	if err := p.Decode(d); err != nil {
		return nil, fmt.Errorf("%v 0x%02x: %w", phase, id, err)
	}
	if n := d.Remaining(); n != 0 {
		return nil, fmt.Errorf("%w: %d bytes after %v 0x%02x", ErrTrailingBytes, n, phase, id)
	}
	return p, nil
}

func encode(table map[Phase]map[int32]func() Packet, phase Phase, p Packet) ([]byte, error) {
	if p.Phase() != phase || table[phase][p.ID()] == nil {
		return nil, fmt.Errorf("%w: %T in %v", ErrIllegalPhase, p, phase)
	}
	e := codec.NewEncoder(64)
	e.Varint(p.ID())
	p.Encode(e)
	return e.Bytes(), nil
}
