package server

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"ironcraft.dev/internal/index"
	"ironcraft.dev/internal/protocol"
)

func TestSessionRowRecorded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := index.Open(path)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	env := newTestEnv(t, nil)
	env.srv.idx = idx

	cli := env.dial()
	cli.handshake(protocol.NextStatus)
	cli.send(&protocol.StatusRequest{})
	if _, ok := cli.recv().(*protocol.StatusResponse); !ok {
		t.Fatalf("want StatusResponse")
	}
	cli.send(&protocol.PingRequest{Payload: 7})
	if _, ok := cli.recv().(*protocol.PongResponse); !ok {
		t.Fatalf("want PongResponse")
	}
	cli.expectClosed(2 * time.Second)
	select {
	case <-cli.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("session never finished")
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close index: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var remote, phase, class string
	var proto int32
	if err := db.QueryRow(`SELECT remote, protocol, phase_reached, close_class FROM sessions`).Scan(&remote, &proto, &phase, &class); err != nil {
		t.Fatalf("select session: %v", err)
	}
	if remote == "" {
		t.Fatalf("remote not recorded")
	}
	if proto != protocol.ProtocolVersion {
		t.Fatalf("protocol = %d", proto)
	}
	if phase != "status" {
		t.Fatalf("phase_reached = %q", phase)
	}
	if class != CloseNormal {
		t.Fatalf("close_class = %q", class)
	}
}
