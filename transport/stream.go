// Package transport implements the reliable bidirectional framed
// message channel the rest of the module assumes: a single reliable
// bidirectional stream of UTF-8 text frames, each carrying exactly one
// top-level message.
//
// This implementation rides WebSocket text frames over a plain
// net.Conn, one JSON message per frame, via github.com/gobwas/ws.
// Swapping in a binary framing later only requires a new Stream
// implementation; nothing upstream depends on WebSocket specifically.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Stream is the reliable bidirectional framed channel every session is
// built on. One Send call transmits exactly one message frame; one
// Recv call receives exactly one.
type Stream interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
	Close() error
	RemoteAddr() string
}

// wsStream implements Stream over a raw net.Conn that has already
// completed the WebSocket handshake (server or client side, the only
// difference being which side must mask outgoing frames per RFC 6455).
type wsStream struct {
	conn       net.Conn
	isServer   bool
	remoteAddr string

	mu sync.Mutex // serializes writes; gobwas/ws frames aren't safe for concurrent writers.
}

// NewServerStream wraps conn (post-handshake, server side) as a Stream.
// Use with ws.Upgrade(conn) from an Accept loop.
func NewServerStream(conn net.Conn) Stream {
	return &wsStream{conn: conn, isServer: true, remoteAddr: safeRemoteAddr(conn)}
}

// NewClientStream wraps conn (post-handshake, client side) as a Stream.
// Use with ws.Dialer.Dial.
func NewClientStream(conn net.Conn) Stream {
	return &wsStream{conn: conn, isServer: false, remoteAddr: safeRemoteAddr(conn)}
}

func safeRemoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

func (s *wsStream) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isServer {
		return wsutil.WriteServerMessage(s.conn, ws.OpText, frame)
	}
	return wsutil.WriteClientMessage(s.conn, ws.OpText, frame)
}

func (s *wsStream) Recv() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if s.isServer {
		data, err = wsutil.ReadClientText(s.conn)
	} else {
		data, err = wsutil.ReadServerText(s.conn)
	}
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, fmt.Errorf("%w: %s", ErrClosed, closed.Reason)
		}
		return nil, err
	}
	return data, nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

func (s *wsStream) RemoteAddr() string {
	return s.remoteAddr
}

// ErrClosed wraps a peer-initiated WebSocket close frame, surfaced to
// callers so they can map it to TRANSPORT_CLOSED.
var ErrClosed = errors.New("transport: stream closed")
