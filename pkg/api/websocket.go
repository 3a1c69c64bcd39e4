package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxMessageSize = 4096
	wsSendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origins are enforced by the CORS layer in front of the router
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans accepted orders out to websocket subscribers by channel.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	join    chan *subscriber
	leave   chan *subscriber
	stopped chan struct{}
	logger  *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		subs:    make(map[*subscriber]struct{}),
		join:    make(chan *subscriber),
		leave:   make(chan *subscriber),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Run tracks joins and leaves until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.stopped)
			h.mu.Lock()
			for s := range h.subs {
				delete(h.subs, s)
				close(s.send)
			}
			h.mu.Unlock()
			return

		case s := <-h.join:
			h.mu.Lock()
			h.subs[s] = struct{}{}
			n := len(h.subs)
			h.mu.Unlock()
			h.logger.Infow("ws_client_connected", "client", s.id, "total", n)

		case s := <-h.leave:
			h.mu.Lock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.send)
			}
			n := len(h.subs)
			h.mu.Unlock()
			h.logger.Infow("ws_client_disconnected", "client", s.id, "total", n)
		}
	}
}

// BroadcastToChannel queues data for every subscriber of channel and
// returns how many took it. Subscribers with a full buffer miss the message.
func (h *Hub) BroadcastToChannel(channel string, data interface{}) int {
	msg, err := json.Marshal(data)
	if err != nil {
		h.logger.Warnw("ws_marshal_failed", "channel", channel, "err", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for s := range h.subs {
		if !s.follows(channel) {
			continue
		}
		if s.enqueue(msg) {
			delivered++
		} else {
			h.logger.Debugw("ws_message_dropped", "client", s.id, "channel", channel)
		}
	}
	return delivered
}

// deliver queues msg for one subscriber. It reports false once the hub has
// dropped s, since its send channel may already be closed.
func (h *Hub) deliver(s *subscriber, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.subs[s]; !ok {
		return false
	}
	return s.enqueue(msg)
}

type subscriber struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
}

func (s *subscriber) follows(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[channel]
	return ok
}

// apply updates the channel set and returns the ack type, or "" for an
// unknown op.
func (s *subscriber) apply(req WSSubscribeRequest) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch req.Op {
	case "subscribe":
		for _, ch := range req.Channels {
			s.channels[ch] = struct{}{}
		}
		return "subscribed"
	case "unsubscribe":
		for _, ch := range req.Channels {
			delete(s.channels, ch)
		}
		return "unsubscribed"
	}
	return ""
}

func (s *subscriber) enqueue(msg []byte) bool {
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// readLoop applies subscription requests and acknowledges each one.
func (s *subscriber) readLoop() {
	defer func() {
		select {
		case s.hub.leave <- s:
		case <-s.hub.stopped:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(wsMaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.Warnw("ws_read_failed", "client", s.id, "err", err)
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			s.hub.logger.Debugw("ws_invalid_message", "client", s.id, "err", err)
			continue
		}
		ackType := s.apply(req)
		if ackType == "" {
			s.hub.logger.Debugw("ws_unknown_op", "client", s.id, "op", req.Op)
			continue
		}
		if ack, err := json.Marshal(WSAck{Type: ackType, Channels: req.Channels}); err == nil {
			s.hub.deliver(s, ack)
		}
	}
}

// writeLoop drains the send buffer and keeps the connection alive.
func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	sub := &subscriber{
		id:       uuid.NewString(),
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		channels: make(map[string]struct{}),
	}
	select {
	case s.hub.join <- sub:
	case <-s.hub.stopped:
		conn.Close()
		return
	}

	go sub.writeLoop()
	go sub.readLoop()
}
