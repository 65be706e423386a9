package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/workmesh/realtime/internal/proto"
)

const handshakeTimeout = 10 * time.Second

// wsTransport speaks the envelope protocol over a WebSocket.
type wsTransport struct {
	endpoint string

	mu   sync.Mutex // guards conn for writes and replacement
	conn *websocket.Conn
}

// NewWSTransport returns the WebSocket transport for the given gateway URL.
func NewWSTransport(endpoint string) Transport {
	return &wsTransport{endpoint: endpoint}
}

func (t *wsTransport) Dial(ctx context.Context, hello proto.HelloData) (*proto.HelloOKData, error) {
	conn, _, err := websocket.Dial(ctx, t.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.endpoint, err)
	}

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := wsjson.Write(hctx, conn, proto.Outbound{Type: proto.OutboundTypeHello, Data: hello}); err != nil {
		conn.Close(websocket.StatusInternalError, "hello failed")
		return nil, fmt.Errorf("send hello: %w", err)
	}

	var first proto.Inbound
	if err := wsjson.Read(hctx, conn, &first); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake read failed")
		return nil, fmt.Errorf("read handshake: %w", err)
	}

	ok, err := handshake(&first)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "handshake rejected")
		return nil, err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return ok, nil
}

func (t *wsTransport) Read(ctx context.Context) (*proto.Inbound, error) {
	conn := t.current()
	if conn == nil {
		return nil, ErrNotConnected
	}
	var in proto.Inbound
	if err := wsjson.Read(ctx, conn, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

func (t *wsTransport) Write(ctx context.Context, out proto.Outbound) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	return wsjson.Write(ctx, t.conn, out)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close(websocket.StatusNormalClosure, "closing")
	t.conn = nil
	return err
}

func (t *wsTransport) current() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func unmarshalData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(raw, v)
}
