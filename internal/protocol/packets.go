package protocol

import (
	"github.com/google/uuid"

	"ironcraft.dev/internal/codec"
)

// Field length caps, enforced at decode time before allocation.
const (
	maxAddressLen = 255
	maxNameLen    = 16
	maxLocaleLen  = 16
	maxCommandLen = 256
	maxReasonLen  = 512

	// MaxChunkPayload caps the serialized tag-tree bytes of one chunk.
	MaxChunkPayload = 4 << 20
)

// Handshake opens every connection and selects the next phase.
type Handshake struct {
	Protocol      int32
	ServerAddress string
	ServerPort    uint16
	Next          int32
}

func (*Handshake) Phase() Phase { return PhaseHandshake }
func (*Handshake) ID() int32 { return 0x00 }

func (h *Handshake) Encode(e *codec.Encoder) {
	e.Varint(h.Protocol)
	e.String(h.ServerAddress)
	e.UShort(h.ServerPort)
	e.Varint(h.Next)
}

func (h *Handshake) Decode(d *codec.Decoder) error {
	var err error
	if h.Protocol, err = d.Varint(); err != nil {
		return err
	}
	if h.ServerAddress, err = d.String(maxAddressLen); err != nil {
		return err
	}
	if h.ServerPort, err = d.UShort(); err != nil {
		return err
	}
	h.Next, err = d.Varint()
	return err
}

type StatusRequest struct{}

func (*StatusRequest) Phase() Phase { return PhaseStatus }
func (*StatusRequest) ID() int32 { return 0x00 }
func (*StatusRequest) Encode(*codec.Encoder) {}
func (*StatusRequest) Decode(*codec.Decoder) error { return nil }

// StatusResponse carries the JSON status document.
type StatusResponse struct {
	JSON string
}

func (*StatusResponse) Phase() Phase { return PhaseStatus }
func (*StatusResponse) ID() int32 { return 0x00 }

func (s *StatusResponse) Encode(e *codec.Encoder) { e.String(s.JSON) }

func (s *StatusResponse) Decode(d *codec.Decoder) error {
	var err error
	s.JSON, err = d.String(0)
	return err
}

// PingRequest carries an opaque client timestamp echoed back verbatim.
type PingRequest struct {
	Payload int64
}

func (*PingRequest) Phase() Phase { return PhaseStatus }
func (*PingRequest) ID() int32 { return 0x01 }

func (p *PingRequest) Encode(e *codec.Encoder) { e.Long(p.Payload) }

func (p *PingRequest) Decode(d *codec.Decoder) error {
	var err error
	p.Payload, err = d.Long()
	return err
}

type PongResponse struct {
	Payload int64
}

func (*PongResponse) Phase() Phase { return PhaseStatus }
func (*PongResponse) ID() int32 { return 0x01 }

func (p *PongResponse) Encode(e *codec.Encoder) { e.Long(p.Payload) }

func (p *PongResponse) Decode(d *codec.Decoder) error {
	var err error
	p.Payload, err = d.Long()
	return err
}

// LoginStart announces the player. PlayerID is advisory in offline mode; the
// server derives the canonical identity from the name.
type LoginStart struct {
	Name     string
	PlayerID uuid.UUID
}

func (*LoginStart) Phase() Phase { return PhaseLogin }
func (*LoginStart) ID() int32 { return 0x00 }

func (l *LoginStart) Encode(e *codec.Encoder) {
	e.String(l.Name)
	e.UUID(l.PlayerID)
}

func (l *LoginStart) Decode(d *codec.Decoder) error {
	var err error
	if l.Name, err = d.String(maxNameLen); err != nil {
		return err
	}
	l.PlayerID, err = d.UUID()
	return err
}

type LoginAck struct{}

func (*LoginAck) Phase() Phase { return PhaseLogin }
func (*LoginAck) ID() int32 { return 0x01 }
func (*LoginAck) Encode(*codec.Encoder) {}
func (*LoginAck) Decode(*codec.Decoder) error { return nil }

type LoginDisconnect struct {
	Reason string
}

func (*LoginDisconnect) Phase() Phase { return PhaseLogin }
func (*LoginDisconnect) ID() int32 { return 0x00 }

func (l *LoginDisconnect) Encode(e *codec.Encoder) { e.String(l.Reason) }

func (l *LoginDisconnect) Decode(d *codec.Decoder) error {
	var err error
	l.Reason, err = d.String(maxReasonLen)
	return err
}

type LoginSuccess struct {
	PlayerID uuid.UUID
	Name     string
}

func (*LoginSuccess) Phase() Phase { return PhaseLogin }
func (*LoginSuccess) ID() int32 { return 0x01 }

func (l *LoginSuccess) Encode(e *codec.Encoder) {
	e.UUID(l.PlayerID)
	e.String(l.Name)
}

func (l *LoginSuccess) Decode(d *codec.Decoder) error {
	var err error
	if l.PlayerID, err = d.UUID(); err != nil {
		return err
	}
	l.Name, err = d.String(maxNameLen)
	return err
}

// SetCompression announces the frame compression threshold. Frames after
// this packet use compressed framing in both directions; there is no packet
// to turn it back off.
type SetCompression struct {
	Threshold int32
}

func (*SetCompression) Phase() Phase { return PhaseLogin }
func (*SetCompression) ID() int32 { return 0x02 }

func (s *SetCompression) Encode(e *codec.Encoder) { e.Varint(s.Threshold) }

func (s *SetCompression) Decode(d *codec.Decoder) error {
	var err error
	s.Threshold, err = d.Varint()
	return err
}

type ClientInformation struct {
	Locale       string
	ViewDistance int8
}

func (*ClientInformation) Phase() Phase { return PhaseConfig }
func (*ClientInformation) ID() int32 { return 0x00 }

func (c *ClientInformation) Encode(e *codec.Encoder) {
	e.String(c.Locale)
	e.Byte(c.ViewDistance)
}

func (c *ClientInformation) Decode(d *codec.Decoder) error {
	var err error
	if c.Locale, err = d.String(maxLocaleLen); err != nil {
		return err
	}
	c.ViewDistance, err = d.Byte()
	return err
}

type FinishConfigAck struct{}

func (*FinishConfigAck) Phase() Phase { return PhaseConfig }
func (*FinishConfigAck) ID() int32 { return 0x01 }
func (*FinishConfigAck) Encode(*codec.Encoder) {}
func (*FinishConfigAck) Decode(*codec.Decoder) error { return nil }

type ConfigDisconnect struct {
	Reason string
}

func (*ConfigDisconnect) Phase() Phase { return PhaseConfig }
func (*ConfigDisconnect) ID() int32 { return 0x00 }

func (c *ConfigDisconnect) Encode(e *codec.Encoder) { e.String(c.Reason) }

func (c *ConfigDisconnect) Decode(d *codec.Decoder) error {
	var err error
	c.Reason, err = d.String(maxReasonLen)
	return err
}

type FinishConfig struct{}

func (*FinishConfig) Phase() Phase { return PhaseConfig }
func (*FinishConfig) ID() int32 { return 0x01 }
func (*FinishConfig) Encode(*codec.Encoder) {}
func (*FinishConfig) Decode(*codec.Decoder) error { return nil }

// ConfigKeepAlive flows both ways under the same id: the server sends one,
// the client echoes the id back.
type ConfigKeepAlive struct {
	KeepAliveID int64
}

func (*ConfigKeepAlive) Phase() Phase { return PhaseConfig }
func (*ConfigKeepAlive) ID() int32 { return 0x02 }

func (k *ConfigKeepAlive) Encode(e *codec.Encoder) { e.Long(k.KeepAliveID) }

func (k *ConfigKeepAlive) Decode(d *codec.Decoder) error {
	var err error
	k.KeepAliveID, err = d.Long()
	return err
}

type PlayKeepAlive struct {
	KeepAliveID int64
}

func (*PlayKeepAlive) Phase() Phase { return PhasePlay }
func (*PlayKeepAlive) ID() int32 { return 0x00 }

func (k *PlayKeepAlive) Encode(e *codec.Encoder) { e.Long(k.KeepAliveID) }

func (k *PlayKeepAlive) Decode(d *codec.Decoder) error {
	var err error
	k.KeepAliveID, err = d.Long()
	return err
}

type PlayerPosition struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	OnGround   bool
}

func (*PlayerPosition) Phase() Phase { return PhasePlay }
func (*PlayerPosition) ID() int32 { return 0x01 }

func (p *PlayerPosition) Encode(e *codec.Encoder) {
	e.Double(p.X)
	e.Double(p.Y)
	e.Double(p.Z)
	e.Float(p.Yaw)
	e.Float(p.Pitch)
	e.Bool(p.OnGround)
}

func (p *PlayerPosition) Decode(d *codec.Decoder) error {
	var err error
	if p.X, err = d.Double(); err != nil {
		return err
	}
	if p.Y, err = d.Double(); err != nil {
		return err
	}
	if p.Z, err = d.Double(); err != nil {
		return err
	}
	if p.Yaw, err = d.Float(); err != nil {
		return err
	}
	if p.Pitch, err = d.Float(); err != nil {
		return err
	}
	p.OnGround, err = d.Bool()
	return err
}

// ChatCommand is opaque to the core; it is handed to the gameplay
// collaborator unparsed.
type ChatCommand struct {
	Command string
}

func (*ChatCommand) Phase() Phase { return PhasePlay }
func (*ChatCommand) ID() int32 { return 0x02 }

func (c *ChatCommand) Encode(e *codec.Encoder) { e.String(c.Command) }

func (c *ChatCommand) Decode(d *codec.Decoder) error {
	var err error
	c.Command, err = d.String(maxCommandLen)
	return err
}

// ChunkData carries one chunk's serialized tag tree. The payload is opaque
// at this layer.
type ChunkData struct {
	X, Z    int32
	Payload []byte
}

func (*ChunkData) Phase() Phase { return PhasePlay }
func (*ChunkData) ID() int32 { return 0x01 }

func (c *ChunkData) Encode(e *codec.Encoder) {
	e.Int(c.X)
	e.Int(c.Z)
	e.ByteArray(c.Payload)
}

func (c *ChunkData) Decode(d *codec.Decoder) error {
	var err error
	if c.X, err = d.Int(); err != nil {
		return err
	}
	if c.Z, err = d.Int(); err != nil {
		return err
	}
	c.Payload, err = d.ByteArray(MaxChunkPayload)
	return err
}

type UnloadChunk struct {
	X, Z int32
}

func (*UnloadChunk) Phase() Phase { return PhasePlay }
func (*UnloadChunk) ID() int32 { return 0x02 }

func (u *UnloadChunk) Encode(e *codec.Encoder) {
	e.Int(u.X)
	e.Int(u.Z)
}

func (u *UnloadChunk) Decode(d *codec.Decoder) error {
	var err error
	if u.X, err = d.Int(); err != nil {
		return err
	}
	u.Z, err = d.Int()
	return err
}

type PlayDisconnect struct {
	Reason string
}

func (*PlayDisconnect) Phase() Phase { return PhasePlay }
func (*PlayDisconnect) ID() int32 { return 0x03 }

func (p *PlayDisconnect) Encode(e *codec.Encoder) { e.String(p.Reason) }

func (p *PlayDisconnect) Decode(d *codec.Decoder) error {
	var err error
	p.Reason, err = d.String(maxReasonLen)
	return err
}

type SystemMessage struct {
	Body string
}

func (*SystemMessage) Phase() Phase { return PhasePlay }
func (*SystemMessage) ID() int32 { return 0x04 }

func (s *SystemMessage) Encode(e *codec.Encoder) { e.String(s.Body) }

func (s *SystemMessage) Decode(d *codec.Decoder) error {
	var err error
	s.Body, err = d.String(0)
	return err
}
