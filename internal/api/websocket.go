package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// handleWebSocket upgrades the connection and subscribes it to the
// observer hub; every event the hub publishes for the lifetime of the
// connection is forwarded as a Message, per spec.md §4.19.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 256),
		sub:  s.hub.Subscribe(),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.logger.Info("websocket client connected", zap.String("id", c.id))

	go s.pumpEvents(c)
	go s.writePump(c)
	s.readPump(c)
}

// pumpEvents relays hub events onto the client's send channel until the
// subscription is closed.
func (s *Server) pumpEvents(c *client) {
	for ev := range c.sub.Events() {
		msg := Message{Type: "event", Kind: ev.Kind, Payload: ev.Payload, Timestamp: time.Now().UnixMilli()}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		select {
		case c.send <- b:
		default:
		}
	}
}

// readPump drains (and discards) inbound frames purely to detect
// disconnects and respond to pings/pongs; this API accepts no client
// commands.
func (s *Server) readPump(c *client) {
	defer s.disconnect(c)

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) disconnect(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.hub.Unsubscribe(c.sub)
	c.conn.Close()
	s.logger.Info("websocket client disconnected", zap.String("id", c.id))
}
