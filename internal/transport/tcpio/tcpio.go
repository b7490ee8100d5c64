// Package tcpio accepts plain TCP connections and hands each one to the
// session loop.
package tcpio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
)

// Handler runs one connection and owns its lifetime; it must close conn.
type Handler func(conn net.Conn)

type Server struct {
	l      net.Listener
	log    *log.Logger
	handle Handler
}

func Listen(addr string, handle Handler, logger *log.Logger) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[tcp] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{l: l, log: logger, handle: handle}, nil
}

func (s *Server) Addr() net.Addr { return s.l.Addr() }

// Close unblocks Serve. Safe to call more than once.
func (s *Server) Close() error { return s.l.Close() }

// Serve accepts until the listener closes or ctx is canceled, whichever
// comes first. In-flight sessions are not waited on; each handler goroutine
// notices its connection closing on its own.
func (s *Server) Serve(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.l.Close()
		case <-done:
		}
	}()

	for {
		conn, err := s.l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handle(conn)
	}
}
