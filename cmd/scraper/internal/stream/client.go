package stream

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

const maxMessageSize = 512 * 1024

// ClientAdapter bridges one raw websocket connection to the hub. A read pump
// decodes commands, a write pump serializes everything going the other way;
// once Close has run the adapter silently drops outbound messages, because
// the hub's snapshot delivery can still be in flight after a disconnect.
type ClientAdapter struct {
	conn   net.Conn
	hub    *Hub
	logger *zap.Logger

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, h *Hub, logger *zap.Logger) *ClientAdapter {
	return &ClientAdapter{
		conn:       conn,
		hub:        h,
		logger:     logger,
		send:       make(chan []byte, 256),
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (c *ClientAdapter) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.conn.RemoteAddr().String() }

// Close stops the write pump. Safe to call more than once, and safe to race
// with SendBytes.
func (c *ClientAdapter) Close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *ClientAdapter) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.SendBytes(b)
}

// SendBytes queues a message for the write pump. Messages are dropped when
// the buffer is full or the adapter is closed.
func (c *ClientAdapter) SendBytes(b []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	control := wsutil.ControlFrameHandler(c.conn, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateServerSide,
		OnIntermediate: control,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}

		if hdr.OpCode.IsControl() {
			// The handler unmasks and answers pings itself; a close frame
			// comes back as an error.
			if err := control(hdr, rd); err != nil {
				return
			}
			if hdr.OpCode == ws.OpPong {
				c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			}
			continue
		}

		if hdr.Length > maxMessageSize {
			c.logger.Warn("Message Too Large", zap.Int64("size", hdr.Length))
			return
		}
		if !hdr.Fin {
			c.logger.Warn("Fragmented Messages Not Supported")
			return
		}

		payload := make([]byte, hdr.Length)
		if _, err := io.ReadFull(rd, payload); err != nil {
			return
		}
		if hdr.OpCode != ws.OpText {
			continue
		}

		var req WSRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			c.SendJSON(WSResponse{Type: "error", Message: "Invalid JSON"})
			continue
		}
		c.hub.HandleCommand(c, req)
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
