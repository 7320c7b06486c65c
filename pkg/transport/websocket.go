package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// defaultReadLimit bounds a single inbound message. Recognition events are
// small JSON objects; a medical record is the largest.
const defaultReadLimit = 1 << 20

// WebSocketDialer dials WebSocket connections with github.com/coder/websocket.
type WebSocketDialer struct {
	// Header is sent with the opening handshake. May be nil.
	Header http.Header

	// ReadLimit is the maximum inbound message size in bytes. Defaults to
	// 1 MiB if zero.
	ReadLimit int64
}

// Dial implements [Dialer].
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: d.Header})
	if err != nil {
		return nil, err
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		if code := websocket.CloseStatus(err); code != -1 {
			return nil, fmt.Errorf("%w: status %d: %v", ErrPeerClosed, code, err)
		}
		return nil, err
	}
	return data, nil
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}
