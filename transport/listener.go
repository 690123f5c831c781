package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/gobwas/ws"
)

// Listener accepts raw TCP connections and completes the WebSocket
// handshake before handing back a Stream, so callers never see
// anything but the framed message abstraction.
type Listener struct {
	ln net.Listener
}

// Listen binds addr and returns a Listener ready to Accept.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks for the next incoming connection, completes the
// WebSocket upgrade, and returns it as a Stream.
func (l *Listener) Accept() (Stream, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	if _, err := ws.Upgrade(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: websocket upgrade: %w", err)
	}
	return NewServerStream(conn), nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr returns the bound listen address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Dial connects to addr and completes a client-side WebSocket
// handshake, returning the result as a Stream.
func Dial(ctx context.Context, addr string) (Stream, error) {
	dialer := ws.Dialer{}
	conn, _, _, err := dialer.Dial(ctx, fmt.Sprintf("ws://%s/", addr))
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return NewClientStream(conn), nil
}
