package call

import (
	"context"

	"github.com/coder/websocket"

	"github.com/voxbridge/voxbridge/pkg/pcm"
)

// MessageKind distinguishes control text from audio frames on a connection.
type MessageKind int

const (
	KindText MessageKind = iota + 1
	KindBinary
)

// Conn is the transport a participant is attached through. Production uses
// the WebSocket adapter below; tests substitute in-process fakes.
type Conn interface {
	// Read blocks for the next message from the client.
	Read(ctx context.Context) (MessageKind, []byte, error)

	// WriteText sends a JSON event.
	WriteText(ctx context.Context, data []byte) error

	// WriteBinary sends a synthesized audio frame.
	WriteBinary(ctx context.Context, data []byte) error

	// Close tears the connection down, carrying reason in the close frame.
	// An empty reason is a routine closure.
	Close(reason CloseReason) error
}

// wsConn adapts a coder/websocket connection to Conn.
type wsConn struct {
	c *websocket.Conn
}

var _ Conn = (*wsConn)(nil)

// NewWebSocketConn wraps an accepted WebSocket connection. The read limit
// leaves headroom above the largest accepted audio frame so oversized
// frames surface as protocol errors instead of connection drops.
func NewWebSocketConn(c *websocket.Conn) Conn {
	c.SetReadLimit(pcm.MaxFrameBytes + 4096)
	return &wsConn{c: c}
}

func (w *wsConn) Read(ctx context.Context) (MessageKind, []byte, error) {
	typ, data, err := w.c.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if typ == websocket.MessageBinary {
		return KindBinary, data, nil
	}
	return KindText, data, nil
}

func (w *wsConn) WriteText(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) WriteBinary(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageBinary, data)
}

func (w *wsConn) Close(reason CloseReason) error {
	return w.c.Close(closeStatus(reason), string(reason))
}

// closeStatus maps a close reason to its WebSocket status code.
func closeStatus(reason CloseReason) websocket.StatusCode {
	switch reason {
	case CloseUnauthenticated, CloseUnauthorized, CloseUnknownSession:
		return websocket.StatusPolicyViolation
	case CloseSuperseded:
		return websocket.StatusGoingAway
	case CloseSlowConsumer:
		return websocket.StatusTryAgainLater
	default:
		return websocket.StatusNormalClosure
	}
}
