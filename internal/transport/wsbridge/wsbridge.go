// Package wsbridge adapts websocket connections to the ordered byte stream
// the frame transport consumes, so browser-hosted clients can speak the
// binary protocol through a websocket tunnel. Each binary message carries an
// arbitrary slice of the stream; message boundaries have no protocol meaning.
package wsbridge

import (
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn presents one websocket connection as a byte stream. Read stitches
// consecutive binary messages together and discards other message types.
// One goroutine may call Read while another calls Write, matching the
// concurrency the underlying websocket allows.
type Conn struct {
	ws  *websocket.Conn
	cur io.Reader
}

func NewConn(ws *websocket.Conn) *Conn { return &Conn{ws: ws} }

func (c *Conn) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			typ, r, err := c.ws.NextReader()
			if err != nil {
				return 0, mapCloseError(err)
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			c.cur = r
		}
		n, err := c.cur.Read(p)
		if err == io.EOF {
			c.cur = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, err
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, mapCloseError(err)
	}
	return len(p), nil
}

// Close sends a close frame on a best-effort basis before dropping the
// underlying connection.
func (c *Conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *Conn) SetReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

// mapCloseError turns graceful websocket closes into io.EOF so the session
// loop sees the same end-of-stream it gets from TCP.
func mapCloseError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	return err
}

// Handler runs one bridged connection and owns its lifetime; the connection
// is closed when it returns.
type Handler func(conn *Conn)

type Server struct {
	log    *log.Logger
	handle Handler

	upgrader websocket.Upgrader
}

func NewServer(handle Handler, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[ws] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{
		log:    logger,
		handle: handle,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Handler upgrades each request and hands the bridged stream to the session
// handler. The HTTP handler goroutine carries the session for the life of
// the connection.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.log.Printf("upgrade %s: %v", r.RemoteAddr, err)
			return
		}
		conn := NewConn(ws)
		defer conn.Close()
		s.handle(conn)
	}
}
