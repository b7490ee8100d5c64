package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ironcraft.dev/internal/codec"
	"ironcraft.dev/internal/index"
	"ironcraft.dev/internal/protocol"
	"ironcraft.dev/internal/transport"
)

// errSessionEnd tells the reader loop to stop after a handler has already
// arranged the teardown.
var errSessionEnd = errors.New("session ended")

// outItem is one frame queued for the writer goroutine. A non-nil threshold
// switches outbound compression right after the frame goes out; a non-empty
// closeAfter flushes the frame and then closes the session with that class.
type outItem struct {
	frame      []byte
	threshold  *int
	closeAfter string
}

type session struct {
	srv *Server
	raw StreamConn
	fr  *transport.FrameReader
	fw  *transport.FrameWriter

	ctx    context.Context
	cancel context.CancelFunc
	out    chan outItem
	closed chan struct{}

	phase atomic.Uint32

	// Owned by the reader goroutine.
	hsProto    int32
	statusSent bool
	reached    protocol.Phase
	curCX      int32
	curCZ      int32

	mu     sync.Mutex
	name   string
	player uuid.UUID
	haveID bool
	class  string
	cause  error

	ka     keepalive
	stream *streamer

	connectedAt time.Time
	closeOnce   sync.Once
	kaStart     sync.Once
}

func newSession(srv *Server, conn StreamConn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		srv:         srv,
		raw:         conn,
		fr:          transport.NewFrameReader(conn, srv.opts.Limits),
		fw:          transport.NewFrameWriter(conn, srv.opts.Limits),
		ctx:         ctx,
		cancel:      cancel,
		out:         make(chan outItem, srv.opts.QueueSize),
		closed:      make(chan struct{}),
		reached:     protocol.PhaseHandshake,
		connectedAt: time.Now(),
	}
	s.phase.Store(uint32(protocol.PhaseHandshake))
	s.stream = newStreamer(s)
	return s
}

func (s *session) phaseNow() protocol.Phase { return protocol.Phase(s.phase.Load()) }

// setPhase runs on the reader goroutine only; shutdown is the one other
// writer of the phase word and only ever stores Closed.
func (s *session) setPhase(p protocol.Phase) {
	s.phase.Store(uint32(p))
	s.reached = p
}

func (s *session) run() {
	defer s.finish()
	go s.writeLoop()
	s.readLoop()
}

func (s *session) readLoop() {
	for s.phaseNow() != protocol.PhaseClosed {
		_ = s.raw.SetReadDeadline(time.Now().Add(s.srv.opts.IdleTimeout))
		frame, err := s.fr.ReadFrame()
		if err != nil {
			s.shutdown(classifyReadError(err), err)
			return
		}
		ph := s.phaseNow()
		if ph == protocol.PhaseClosed {
			return
		}
		pkt, err := protocol.DecodeServerbound(ph, frame)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownPacket) && tolerant(ph) {
				continue
			}
			s.shutdown(CloseProtocolViolation, fmt.Errorf("%w: %v", ErrProtocolViolation, err))
			return
		}
		if err := s.dispatch(pkt); err != nil {
			return
		}
	}
}

// tolerant reports whether unknown packet ids are skipped instead of torn
// down. Only the pre-login phases extend that forward compatibility.
func tolerant(ph protocol.Phase) bool {
	return ph == protocol.PhaseHandshake || ph == protocol.PhaseStatus
}

func classifyReadError(err error) string {
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return CloseIdleTimeout
		}
		return ClosePeerGone
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return ClosePeerGone
	}
	// Anything else is the peer lying about its framing.
	return CloseProtocolViolation
}

func classifyWriteError(err error) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CloseWriteStall
	}
	return ClosePeerGone
}

func (s *session) dispatch(p protocol.Packet) error {
	switch pkt := p.(type) {
	case *protocol.Handshake:
		return s.onHandshake(pkt)
	case *protocol.StatusRequest:
		return s.onStatusRequest()
	case *protocol.PingRequest:
		return s.onPing(pkt)
	case *protocol.LoginStart:
		return s.onLoginStart(pkt)
	case *protocol.LoginAck:
		return s.onLoginAck()
	case *protocol.ClientInformation:
		return s.onClientInformation(pkt)
	case *protocol.FinishConfigAck:
		return s.onFinishConfigAck()
	case *protocol.ConfigKeepAlive:
		return s.onKeepAliveEcho(pkt.KeepAliveID)
	case *protocol.PlayKeepAlive:
		return s.onKeepAliveEcho(pkt.KeepAliveID)
	case *protocol.PlayerPosition:
		return s.onPlayerPosition(pkt)
	case *protocol.ChatCommand:
		s.srv.sink.Submit(s.connInfo(), Command{Packet: pkt})
		return nil
	default:
		s.shutdown(CloseProtocolViolation, fmt.Errorf("%w: unhandled %T", ErrProtocolViolation, p))
		return errSessionEnd
	}
}

func (s *session) onHandshake(h *protocol.Handshake) error {
	s.hsProto = h.Protocol
	switch h.Next {
	case protocol.NextStatus:
		s.setPhase(protocol.PhaseStatus)
	case protocol.NextLogin:
		s.setPhase(protocol.PhaseLogin)
	default:
		s.shutdown(CloseProtocolViolation, fmt.Errorf("%w: handshake next=%d", ErrProtocolViolation, h.Next))
		return errSessionEnd
	}
	return nil
}

func (s *session) onStatusRequest() error {
	if s.statusSent {
		// Duplicate requests are ignored, not answered again.
		return nil
	}
	s.statusSent = true
	doc, err := s.srv.statusJSON()
	if err != nil {
		s.shutdown(CloseInternal, err)
		return errSessionEnd
	}
	return s.send(&protocol.StatusResponse{JSON: doc})
}

// onPing answers the ping and closes: status is one-shot.
func (s *session) onPing(p *protocol.PingRequest) error {
	return s.sendThenClose(&protocol.PongResponse{Payload: p.Payload}, CloseNormal)
}

func (s *session) onLoginStart(l *protocol.LoginStart) error {
	if s.hsProto != protocol.ProtocolVersion {
		return s.refuseLogin(fmt.Sprintf("unsupported protocol %d", s.hsProto))
	}
	name := strings.TrimSpace(l.Name)
	if name == "" {
		return s.refuseLogin("empty player name")
	}
	if s.srv.online() >= s.srv.opts.MaxPlayers {
		return s.refuseLogin("server is full")
	}
	id := codec.OfflineUUID(name)
	s.setIdentity(name, id)

	if t := s.srv.opts.Threshold; t >= 0 {
		frame, err := protocol.EncodeClientbound(protocol.PhaseLogin, &protocol.SetCompression{Threshold: int32(t)})
		if err != nil {
			s.shutdown(CloseInternal, err)
			return errSessionEnd
		}
		th := t
		if err := s.enqueue(outItem{frame: frame, threshold: &th}); err != nil {
			return errSessionEnd
		}
		// The writer switches its side after that frame goes out; inbound
		// switches here, before the next read. The client cannot legally
		// send again until LoginSuccess, which is ordered after the switch.
		s.fr.SetCompression(t)
	}
	return s.send(&protocol.LoginSuccess{PlayerID: id, Name: name})
}

func (s *session) refuseLogin(reason string) error {
	return s.sendThenClose(&protocol.LoginDisconnect{Reason: reason}, CloseLoginRejected)
}

func (s *session) onLoginAck() error {
	if !s.loggedIn() {
		s.shutdown(CloseProtocolViolation, fmt.Errorf("%w: login ack before login start", ErrProtocolViolation))
		return errSessionEnd
	}
	s.setPhase(protocol.PhaseConfig)
	s.startKeepalive()
	return s.send(&protocol.FinishConfig{})
}

func (s *session) onClientInformation(ci *protocol.ClientInformation) error {
	r := int(ci.ViewDistance)
	if r < 2 {
		r = 2
	}
	if r > s.srv.opts.ViewRadius {
		r = s.srv.opts.ViewRadius
	}
	s.stream.setRadius(r)
	return nil
}

func (s *session) onFinishConfigAck() error {
	s.setPhase(protocol.PhasePlay)
	go s.stream.loop()
	// Stream around the spawn chunk until the first position report.
	s.curCX, s.curCZ = 0, 0
	s.stream.retarget(0, 0)
	return nil
}

func (s *session) onKeepAliveEcho(id int64) error {
	if !s.ka.ack(id) {
		s.shutdown(CloseProtocolViolation, fmt.Errorf("%w: keepalive id %d was never sent", ErrProtocolViolation, id))
		return errSessionEnd
	}
	return nil
}

func (s *session) onPlayerPosition(p *protocol.PlayerPosition) error {
	s.srv.sink.Submit(s.connInfo(), Command{Packet: p})
	cx, cz := chunkAt(p.X, p.Z)
	if cx != s.curCX || cz != s.curCZ {
		s.curCX, s.curCZ = cx, cz
		s.stream.retarget(cx, cz)
	}
	return nil
}

func chunkAt(x, z float64) (int32, int32) {
	return int32(math.Floor(x / 16)), int32(math.Floor(z / 16))
}

// send encodes against the current phase and queues the frame. Encode
// failures are local bugs, not peer behavior.
func (s *session) send(p protocol.Packet) error {
	if err := s.trySend(p); err != nil {
		if errors.Is(err, protocol.ErrIllegalPhase) {
			s.shutdown(CloseInternal, err)
		}
		return errSessionEnd
	}
	return nil
}

// trySend is send without the teardown: callers racing a phase change keep
// the session alive on ErrIllegalPhase and decide for themselves.
func (s *session) trySend(p protocol.Packet) error {
	frame, err := protocol.EncodeClientbound(s.phaseNow(), p)
	if err != nil {
		return err
	}
	return s.enqueue(outItem{frame: frame})
}

func (s *session) sendThenClose(p protocol.Packet, class string) error {
	frame, err := protocol.EncodeClientbound(s.phaseNow(), p)
	if err != nil {
		s.shutdown(CloseInternal, err)
		return errSessionEnd
	}
	_ = s.enqueue(outItem{frame: frame, closeAfter: class})
	return errSessionEnd
}

func (s *session) enqueue(it outItem) error {
	select {
	case s.out <- it:
		return nil
	case <-s.closed:
		return net.ErrClosed
	default:
	}
	// Queue full: block up to the stall budget, then give up on the peer.
	t := time.NewTimer(s.srv.opts.WriteStall)
	defer t.Stop()
	select {
	case s.out <- it:
		return nil
	case <-s.closed:
		return net.ErrClosed
	case <-t.C:
		s.shutdown(CloseWriteStall, errors.New("outbound queue stalled"))
		return net.ErrClosed
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case it := <-s.out:
			_ = s.raw.SetWriteDeadline(time.Now().Add(s.srv.opts.WriteStall))
			if err := s.fw.WriteFrame(it.frame); err != nil {
				s.shutdown(classifyWriteError(err), err)
				return
			}
			if it.threshold != nil {
				s.fw.SetCompression(*it.threshold)
			}
			if it.closeAfter != "" {
				s.shutdown(it.closeAfter, nil)
				return
			}
		}
	}
}

func (s *session) startKeepalive() {
	s.kaStart.Do(func() {
		s.ka.start(time.Now())
		go s.keepaliveLoop()
	})
}

func (s *session) keepaliveLoop() {
	t := time.NewTicker(s.srv.opts.Keepalive)
	defer t.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-t.C:
		}
		if s.ka.sinceEcho() > s.srv.opts.Grace {
			s.shutdown(CloseKeepaliveTimeout, fmt.Errorf("no keepalive echo in %v", s.srv.opts.Grace))
			return
		}
		var p protocol.Packet
		switch s.phaseNow() {
		case protocol.PhaseConfig:
			p = &protocol.ConfigKeepAlive{KeepAliveID: s.ka.next()}
		case protocol.PhasePlay:
			p = &protocol.PlayKeepAlive{KeepAliveID: s.ka.next()}
		default:
			return
		}
		if err := s.trySend(p); err != nil {
			// The phase can move between the snapshot and the encode; the
			// next tick carries the right packet.
			if errors.Is(err, protocol.ErrIllegalPhase) {
				continue
			}
			return
		}
	}
}

func (s *session) setIdentity(name string, id uuid.UUID) {
	s.mu.Lock()
	s.name, s.player, s.haveID = name, id, true
	s.mu.Unlock()
}

func (s *session) identity() (string, uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, s.player, s.haveID
}

func (s *session) loggedIn() bool {
	_, _, ok := s.identity()
	return ok
}

func (s *session) connInfo() ConnInfo {
	name, id, _ := s.identity()
	return ConnInfo{Remote: s.raw.RemoteAddr().String(), Name: name, PlayerID: id}
}

// shutdown closes the session exactly once: the first class wins, the raw
// conn closes, and every session goroutine unblocks. Queued frames past the
// one being written are discarded.
func (s *session) shutdown(class string, cause error) {
	s.closeOnce.Do(func() {
		if !IsKnownClass(class) || class == "" {
			class = CloseInternal
		}
		s.mu.Lock()
		s.class, s.cause = class, cause
		s.mu.Unlock()
		s.phase.Store(uint32(protocol.PhaseClosed))
		s.cancel()
		close(s.closed)
		_ = s.raw.Close()
	})
}

func (s *session) finish() {
	// A clean close can still be queued behind the last frame; give the
	// writer its stall budget to flush or fail before recording.
	select {
	case <-s.closed:
	case <-time.After(s.srv.opts.WriteStall + time.Second):
		s.shutdown(CloseWriteStall, errors.New("writer never finished"))
	}

	s.mu.Lock()
	class, cause, name := s.class, s.cause, s.name
	var id string
	if s.haveID {
		id = s.player.String()
	}
	s.mu.Unlock()

	row := index.Session{
		Remote:         s.raw.RemoteAddr().String(),
		Name:           name,
		UUID:           id,
		Protocol:       s.hsProto,
		PhaseReached:   s.reached.String(),
		ConnectedAt:    s.connectedAt,
		DisconnectedAt: time.Now(),
		CloseClass:     class,
	}
	s.srv.idx.RecordSession(row)
	if cause != nil && class != ClosePeerGone {
		s.srv.log.Printf("session %s closed: phase=%s class=%s: %v", row.Remote, row.PhaseReached, class, cause)
	}
}

// keepalive tracks outstanding probe ids and the last echo time. Ids are
// monotonic per session; an echo must match an outstanding id.
type keepalive struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]struct{}
	echoAt  time.Time
}

func (k *keepalive) start(now time.Time) {
	k.mu.Lock()
	k.pending = make(map[int64]struct{})
	k.echoAt = now
	k.mu.Unlock()
}

func (k *keepalive) next() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextID++
	k.pending[k.nextID] = struct{}{}
	return k.nextID
}

func (k *keepalive) ack(id int64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.pending == nil {
		return false
	}
	if _, ok := k.pending[id]; !ok {
		return false
	}
	delete(k.pending, id)
	k.echoAt = time.Now()
	return true
}

func (k *keepalive) sinceEcho() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return time.Since(k.echoAt)
}
