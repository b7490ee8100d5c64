package tcpio

import (
	"context"
	"io"
	"log"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestServeHandsOffConnections(t *testing.T) {
	var served atomic.Int64
	srv, err := Listen("127.0.0.1:0", func(conn net.Conn) {
		defer conn.Close()
		served.Add(1)
		buf := make([]byte, 16)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		_, _ = conn.Write(buf[:n])
	}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx) }()

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", srv.Addr().String())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		msg := []byte("ping")
		if _, err := conn.Write(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		buf := make([]byte, len(msg))
		if _, err := io.ReadFull(conn, buf); err != nil {
			t.Fatalf("read echo: %v", err)
		}
		if string(buf) != "ping" {
			t.Fatalf("echo = %q", buf)
		}
		_ = conn.Close()
	}

	cancel()
	select {
	case err := <-serveDone:
		if err != nil {
			t.Fatalf("serve after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
	if got := served.Load(); got != 3 {
		t.Fatalf("served %d connections, want 3", got)
	}
}

func TestCloseUnblocksServe(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", func(conn net.Conn) { _ = conn.Close() }, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-serveDone:
		if err != nil {
			t.Fatalf("serve after close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return after close")
	}
}

func TestListenBadAddr(t *testing.T) {
	if _, err := Listen("256.0.0.1:http", nil, nil); err == nil {
		t.Fatalf("want error for bad address")
	}
}
