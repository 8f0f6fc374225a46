package delivery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/visiona/scenewatch/internal/distributor"
	"github.com/visiona/scenewatch/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSMessage is the framed envelope every WebSocket push uses.
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// wsCommand is a client-to-server control message.
type wsCommand struct {
	Type string `json:"type"`
}

// conn wraps one client WebSocket, owning a bounded send queue. Under
// backpressure an arriving video_frame is dropped; any other arriving
// message displaces the oldest queued message, whatever its type.
type conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	send   chan WSMessage

	mu        sync.RWMutex
	streaming bool
	closed    bool
	done      chan struct{}
}

func newConn(ws *websocket.Conn, queueSize int, logger *slog.Logger) *conn {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &conn{
		ws:     ws,
		logger: logger,
		send:   make(chan WSMessage, queueSize),
		done:   make(chan struct{}),
	}
}

func (c *conn) isStreaming() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streaming
}

func (c *conn) setStreaming(v bool) {
	c.mu.Lock()
	c.streaming = v
	c.mu.Unlock()
}

// push enqueues msg without blocking. When the queue is full a video_frame
// is dropped; every other message type evicts the oldest queued message to
// make room. That evicted message may be of any type, an inference_result
// included.
func (c *conn) push(msg WSMessage) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	select {
	case c.send <- msg:
		return
	default:
	}

	if msg.Type == "video_frame" {
		return
	}

	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	c.ws.Close()
}

func (c *conn) readPump(ctx context.Context) {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}

		switch cmd.Type {
		case "start_stream":
			c.setStreaming(true)
		case "stop_stream":
			c.setStreaming(false)
		}
	}
}

func (c *conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Hub fans frames, inference results and status pushes out to every
// connected WebSocket client. Video frames are only forwarded while the
// global streaming switch (REST /api/stream/start|stop) is on and at least
// one connection has its streaming flag on.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}

	dist      *distributor.Distributor
	queueSize int
	logger    *slog.Logger

	globalStreaming atomic.Bool
}

// NewHub builds a Hub over the given Distributor.
func NewHub(dist *distributor.Distributor, sendQueueSize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		conns:     make(map[*conn]struct{}),
		dist:      dist,
		queueSize: sendQueueSize,
		logger:    logger.With("component", "delivery.hub"),
	}
	h.globalStreaming.Store(true)
	return h
}

// SetGlobalStreaming implements the REST-level stream/start|stop switch.
func (h *Hub) SetGlobalStreaming(on bool) {
	h.globalStreaming.Store(on)
}

func (h *Hub) anyClientStreaming() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c.isStreaming() {
			return true
		}
	}
	return false
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// broadcast pushes msg to every connected client.
func (h *Hub) broadcast(msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		c.push(msg)
	}
}

// BroadcastInferenceResult pushes a finished record to every client.
func (h *Hub) BroadcastInferenceResult(rec *model.InferenceRecord) {
	h.broadcast(WSMessage{Type: "inference_result", Data: rec, Timestamp: time.Now()})
}

// BroadcastStatusUpdate pushes an arbitrary status_update payload.
func (h *Hub) BroadcastStatusUpdate(data interface{}) {
	h.broadcast(WSMessage{Type: "status_update", Data: data, Timestamp: time.Now()})
}

// BroadcastStreamStatus pushes an arbitrary stream_status payload.
func (h *Hub) BroadcastStreamStatus(data interface{}) {
	h.broadcast(WSMessage{Type: "stream_status", Data: data, Timestamp: time.Now()})
}

// BroadcastError pushes a diagnostic error string.
func (h *Hub) BroadcastError(message string) {
	h.broadcast(WSMessage{Type: "error", Data: message, Timestamp: time.Now()})
}

// RunFrameForwarder subscribes to the Distributor and forwards frames as
// video_frame messages while the gate (global switch AND at least one
// client streaming) is open. Runs until ctx is cancelled.
func (h *Hub) RunFrameForwarder(ctx context.Context) {
	sub := h.dist.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, ok := sub.Next(200 * time.Millisecond)
		if !ok || f == nil {
			continue
		}
		if !h.globalStreaming.Load() || !h.anyClientStreaming() {
			continue
		}
		h.broadcast(WSMessage{
			Type: "video_frame",
			Data: videoFrameData{
				FrameNumber: f.Seq,
				Timestamp:   f.Timestamp,
				JPEGBase64:  base64.StdEncoding.EncodeToString(f.Data),
			},
			Timestamp: time.Now(),
		})
	}
}

type videoFrameData struct {
	FrameNumber uint64    `json:"frame_number"`
	Timestamp   time.Time `json:"timestamp"`
	JPEGBase64  string    `json:"jpeg_base64"`
}
