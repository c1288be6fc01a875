package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// handshakeTimeout bounds the websocket dial.
const handshakeTimeout = 10 * time.Second

// Event is one message from the backend push channel.
type Event interface{ isEvent() }

// Progress reports render progress. Informational only; it never drives a
// state transition.
type Progress struct {
	Value int
	Max   int
}

// Executing reports the node currently running for a prompt. A nil Node for
// the monitored prompt signals terminal completion.
type Executing struct {
	Node     *string
	PromptID string
}

// ExecutionFailure reports a backend-side render failure for a prompt.
type ExecutionFailure struct {
	PromptID string
	Detail   string
}

func (Progress) isEvent()         {}
func (Executing) isEvent()        {}
func (ExecutionFailure) isEvent() {}

// wireEvent is the JSON envelope on the wire.
type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// PushConn is a push channel scoped to one client correlation id. Events are
// delivered in arrival order on a single channel; the channel closes when the
// connection fails or is closed, with the reason available from Err.
type PushConn struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	err    error
}

// OpenPush dials the backend websocket endpoint scoped to clientID and starts
// the single reader goroutine.
func (c *Client) OpenPush(ctx context.Context, clientID string) (*PushConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, c.wsURL+"?clientId="+clientID, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	c.logger.Debug("push channel connected", "url", c.wsURL, "client_id", clientID)

	p := &PushConn{
		conn:   conn,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		logger: c.logger,
	}
	go p.readLoop()
	return p, nil
}

// Events returns the event stream. The channel is closed on connection
// failure or Close.
func (p *PushConn) Events() <-chan Event { return p.events }

// Err reports why the event stream ended, nil for a clean Close.
func (p *PushConn) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close shuts the connection down and releases the reader goroutine. Safe to
// call more than once.
func (p *PushConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return p.conn.Close()
}

func (p *PushConn) readLoop() {
	defer close(p.events)

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			if !p.closed {
				p.err = err
				p.closed = true
				p.conn.Close()
			}
			p.mu.Unlock()
			return
		}

		// The backend interleaves binary preview frames; only text frames
		// carry events.
		if msgType != websocket.TextMessage {
			continue
		}

		event, ok := decodeEvent(data)
		if !ok {
			continue
		}
		select {
		case p.events <- event:
		case <-p.done:
			return
		}
	}
}

func decodeEvent(data []byte) (Event, bool) {
	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, false
	}

	switch wire.Type {
	case "progress":
		var d struct {
			Value int `json:"value"`
			Max   int `json:"max"`
		}
		if err := json.Unmarshal(wire.Data, &d); err != nil {
			return nil, false
		}
		return Progress{Value: d.Value, Max: d.Max}, true

	case "executing":
		var d struct {
			Node     *string `json:"node"`
			PromptID string  `json:"prompt_id"`
		}
		if err := json.Unmarshal(wire.Data, &d); err != nil {
			return nil, false
		}
		return Executing{Node: d.Node, PromptID: d.PromptID}, true

	case "execution_error":
		var d struct {
			PromptID         string `json:"prompt_id"`
			ExceptionMessage string `json:"exception_message"`
			NodeType         string `json:"node_type"`
		}
		if err := json.Unmarshal(wire.Data, &d); err != nil {
			return nil, false
		}
		detail := d.ExceptionMessage
		if detail == "" {
			detail = string(wire.Data)
		}
		if d.NodeType != "" {
			detail = d.NodeType + ": " + detail
		}
		return ExecutionFailure{PromptID: d.PromptID, Detail: detail}, true

	default:
		// status, executed, execution_cached and friends are not needed
		// for completion tracking.
		return nil, false
	}
}
