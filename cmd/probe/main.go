// Command probe dials a server, runs the status exchange, and prints the
// status document plus a measured ping round trip.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"ironcraft.dev/internal/protocol"
	"ironcraft.dev/internal/transport"
	"ironcraft.dev/internal/transport/wsbridge"
)

type streamConn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

func main() {
	var (
		addr    = flag.String("addr", "localhost:25565", "server address (host:port)")
		wsURL   = flag.String("ws", "", "websocket bridge url to dial instead (ws://host:port/v1/ws)")
		timeout = flag.Duration("timeout", 5*time.Second, "per-exchange deadline")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[probe] ", log.LstdFlags|log.Lmicroseconds)

	conn, host, port, err := dial(*wsURL, *addr)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fr := transport.NewFrameReader(conn, transport.DefaultLimits())
	fw := transport.NewFrameWriter(conn, transport.DefaultLimits())

	send := func(p protocol.Packet) {
		body, err := protocol.EncodeServerbound(p.Phase(), p)
		if err != nil {
			logger.Fatalf("encode: %v", err)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(*timeout))
		if err := fw.WriteFrame(body); err != nil {
			logger.Fatalf("write: %v", err)
		}
	}
	recv := func() protocol.Packet {
		_ = conn.SetReadDeadline(time.Now().Add(*timeout))
		body, err := fr.ReadFrame()
		if err != nil {
			logger.Fatalf("read: %v", err)
		}
		p, err := protocol.DecodeClientbound(protocol.PhaseStatus, body)
		if err != nil {
			logger.Fatalf("decode: %v", err)
		}
		return p
	}

	send(&protocol.Handshake{
		Protocol:      protocol.ProtocolVersion,
		ServerAddress: host,
		ServerPort:    port,
		Next:          protocol.NextStatus,
	})
	send(&protocol.StatusRequest{})

	resp, ok := recv().(*protocol.StatusResponse)
	if !ok {
		logger.Fatalf("expected a status response")
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(resp.JSON), "", "  "); err != nil {
		fmt.Println(resp.JSON)
	} else {
		fmt.Println(pretty.String())
	}

	start := time.Now()
	send(&protocol.PingRequest{Payload: start.UnixNano()})
	pong, ok := recv().(*protocol.PongResponse)
	if !ok {
		logger.Fatalf("expected a pong")
	}
	if pong.Payload != start.UnixNano() {
		logger.Fatalf("pong payload mismatch: sent %d, got %d", start.UnixNano(), pong.Payload)
	}
	fmt.Printf("rtt=%s\n", time.Since(start).Round(time.Microsecond))
}

// dial opens the byte stream and reports the host and port the handshake
// should carry.
func dial(wsURL, addr string) (streamConn, string, uint16, error) {
	if wsURL != "" {
		u, err := url.Parse(wsURL)
		if err != nil {
			return nil, "", 0, err
		}
		port := uint16(80)
		if s := u.Port(); s != "" {
			n, _ := strconv.ParseUint(s, 10, 16)
			port = uint16(n)
		}
		ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return nil, "", 0, err
		}
		return wsbridge.NewConn(ws), u.Hostname(), port, nil
	}
	host, ps, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, "", 0, err
	}
	n, err := strconv.ParseUint(ps, 10, 16)
	if err != nil {
		return nil, "", 0, fmt.Errorf("port %q: %v", ps, err)
	}
	c, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, "", 0, err
	}
	return c, host, uint16(n), nil
}
