// Package server runs the connection state machine: one session per accepted
// byte stream, moving handshake to status or login, then configuration, then
// play. The package owns phase legality, compression negotiation, keepalive
// and chunk streaming; gameplay traffic is handed to a CommandSink it never
// interprets.
package server

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"ironcraft.dev/internal/index"
	"ironcraft.dev/internal/protocol"
	"ironcraft.dev/internal/transport"
	"ironcraft.dev/internal/world"
)

// ErrProtocolViolation classifies inbound traffic that is illegal in the
// session's current phase: a decode failure of any class, or an id outside
// the phase's table past the pre-login phases. The connection is torn down
// without a descriptive wire error.
var ErrProtocolViolation = errors.New("protocol violation")

// StreamConn is the surface a session needs from its transport. net.Conn
// satisfies it, as does the websocket bridge.
type StreamConn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

// ConnInfo identifies the connection behind a gameplay command.
type ConnInfo struct {
	Remote   string
	Name     string
	PlayerID uuid.UUID
}

// Command is one decoded gameplay packet: *protocol.ChatCommand or
// *protocol.PlayerPosition.
type Command struct {
	Packet protocol.Packet
}

// CommandSink receives gameplay traffic. Submit runs on the session's reader
// goroutine and must not block.
type CommandSink interface {
	Submit(info ConnInfo, cmd Command)
}

type discardSink struct{}

func (discardSink) Submit(ConnInfo, Command) {}

type Options struct {
	MOTD        string
	MaxPlayers  int
	FaviconPath string

	// Threshold enables frame compression during login; negative disables.
	Threshold int
	Limits    transport.Limits

	Dimension  string
	ViewRadius int

	IdleTimeout time.Duration
	Keepalive   time.Duration
	Grace       time.Duration
	WriteStall  time.Duration
	QueueSize   int
}

func (o *Options) fillDefaults() {
	if o.MaxPlayers <= 0 {
		o.MaxPlayers = 64
	}
	if o.Limits.MaxFrameSize == 0 {
		o.Limits = transport.DefaultLimits()
	}
	if o.Dimension == "" {
		o.Dimension = "overworld"
	}
	if o.ViewRadius <= 0 {
		o.ViewRadius = 8
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.Keepalive <= 0 {
		o.Keepalive = 15 * time.Second
	}
	if o.Grace <= 0 {
		o.Grace = 30 * time.Second
	}
	if o.WriteStall <= 0 {
		o.WriteStall = 30 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
}

// Server owns the shared collaborators and the live session set. Sessions
// run on the caller's goroutine; HandleConn returns when the session ends.
type Server struct {
	opts  Options
	world *world.Service
	sink  CommandSink
	idx   *index.Index
	log   *log.Logger

	favOnce sync.Once
	favicon string

	mu       sync.Mutex
	closing  bool
	sessions map[*session]struct{}
}

func New(opts Options, svc *world.Service, sink CommandSink, idx *index.Index, logger *log.Logger) *Server {
	opts.fillDefaults()
	if sink == nil {
		sink = discardSink{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[server] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{
		opts:     opts,
		world:    svc,
		sink:     sink,
		idx:      idx,
		log:      logger,
		sessions: make(map[*session]struct{}),
	}
}

// HandleConn runs one session to completion. It owns conn and closes it.
func (s *Server) HandleConn(conn StreamConn) {
	sess := newSession(s, conn)
	if !s.track(sess) {
		_ = conn.Close()
		return
	}
	defer s.untrack(sess)
	sess.run()
}

func (s *Server) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// Close disconnects every live session. New connections are refused once it
// has been called.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	live := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()
	for _, sess := range live {
		sess.shutdown(CloseShutdown, nil)
	}
}

// online counts sessions that completed login; sample returns up to n of
// their names for the status document.
func (s *Server) online() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for sess := range s.sessions {
		if sess.loggedIn() {
			n++
		}
	}
	return n
}

func (s *Server) sample(n int) []statusPlayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]statusPlayer, 0, n)
	for sess := range s.sessions {
		if len(out) == n {
			break
		}
		if name, id, ok := sess.identity(); ok {
			out = append(out, statusPlayer{Name: name, ID: id.String()})
		}
	}
	return out
}
