package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"call-signaling/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var ErrConnClosed = errors.New("signaling: connection closed")

// Conn is one device's signaling socket. DeviceID is client supplied and
// may be empty; ID is always unique.
type Conn struct {
	ID          string
	UserID      string
	DeviceID    string
	ConnectedAt time.Time

	ws   *websocket.Conn
	send chan []byte
	seq  atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// Send queues a frame without blocking. A full buffer counts as undelivered.
func (c *Conn) Send(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrUndelivered
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// FrameHandler handles one inbound frame from a device.
type FrameHandler func(ctx context.Context, c *Conn, f Frame)

// Hub holds the signaling sockets connected to this node, keyed by user.
// A user may have several devices connected at once.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[string]*Conn // userID -> connID -> Conn
	log   *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{conns: make(map[string]map[string]*Conn), log: log}
}

// Register adds an upgraded socket for userID and starts its writer.
func (h *Hub) Register(userID, deviceID string, ws *websocket.Conn) *Conn {
	c := &Conn{
		ID:          uuid.NewString(),
		UserID:      userID,
		DeviceID:    deviceID,
		ConnectedAt: time.Now(),
		ws:          ws,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[string]*Conn)
	}
	h.conns[userID][c.ID] = c
	h.mu.Unlock()

	metrics.ConnectedSockets.Inc()
	h.log.Info("signal socket connected", "conn_id", c.ID, "user_id", userID, "device_id", deviceID)

	go h.writePump(c)
	return c
}

// Unregister removes and closes c. Safe to call more than once.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	removed := false
	if byUser, ok := h.conns[c.UserID]; ok {
		if _, ok := byUser[c.ID]; ok {
			delete(byUser, c.ID)
			removed = true
		}
		if len(byUser) == 0 {
			delete(h.conns, c.UserID)
		}
	}
	h.mu.Unlock()

	c.close()
	if removed {
		metrics.ConnectedSockets.Dec()
		h.log.Info("signal socket disconnected", "conn_id", c.ID, "user_id", c.UserID)
	}
}

// Online reports whether userID has at least one socket on this node.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// Count returns the number of sockets on this node.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, byUser := range h.conns {
		n += len(byUser)
	}
	return n
}

// Deliver writes env to every local device of env.UserID except
// env.ExceptDevice. It succeeds if at least one device accepted the frame,
// or if the excluded device was the only one connected.
func (h *Hub) Deliver(ctx context.Context, env Envelope) error {
	h.mu.RLock()
	byUser := h.conns[env.UserID]
	targets := make([]*Conn, 0, len(byUser))
	for _, c := range byUser {
		if env.ExceptDevice != "" && c.DeviceID == env.ExceptDevice {
			continue
		}
		targets = append(targets, c)
	}
	skipped := len(byUser) - len(targets)
	h.mu.RUnlock()

	if len(targets) == 0 {
		if skipped > 0 {
			return nil
		}
		return ErrUndelivered
	}
	delivered := 0
	for _, c := range targets {
		f := Frame{Type: FrameTypeEvent, Event: env.Event, Payload: env.Payload, Seq: c.seq.Add(1)}
		if err := c.Send(f); err != nil {
			h.log.Warn("signal frame dropped", "conn_id", c.ID, "user_id", c.UserID, "event", env.Event, "err", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return ErrUndelivered
	}
	return nil
}

// Serve reads frames from c until the socket fails or ctx is done, then unregisters it.
func (h *Hub) Serve(ctx context.Context, c *Conn, handle FrameHandler) {
	defer h.Unregister(c)

	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-c.done:
		}
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("signal socket read failed", "conn_id", c.ID, "err", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			_ = c.Send(NewErrorResponse("", ErrorShape{Code: "invalid_frame", Message: "frame must be json"}))
			continue
		}
		if f.Type != FrameTypeRequest || handle == nil {
			continue
		}
		handle(ctx, c, f)
	}
}

func (h *Hub) writePump(c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
