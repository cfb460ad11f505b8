package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/logsentry/logsentry/internal/detect"
	"github.com/logsentry/logsentry/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsMessage is the envelope pushed to subscribers.
type wsMessage struct {
	Type      string               `json:"type"`
	Anomaly   detect.AnomalyRecord `json:"anomaly"`
	Timestamp time.Time            `json:"timestamp"`
}

// client is one websocket subscriber with a bounded send buffer. A
// client that cannot keep up is disconnected, never buffered further.
type client struct {
	conn *websocket.Conn
	send chan wsMessage
}

// Hub fans anomaly records out to all connected websocket clients.
type Hub struct {
	log *zap.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan wsMessage

	stop chan struct{}
	done chan struct{}
}

// NewHub creates the hub; call Start before accepting connections.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:        log,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan wsMessage, 64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the hub loop.
func (h *Hub) Start() {
	go h.run()
}

// Stop closes all client connections and halts the loop.
func (h *Hub) Stop() {
	close(h.stop)
	<-h.done
}

// BroadcastAnomaly pushes one anomaly record to all subscribers. Never
// blocks: if the hub's intake is full the record is skipped.
func (h *Hub) BroadcastAnomaly(ar detect.AnomalyRecord) {
	msg := wsMessage{Type: "anomaly", Anomaly: ar, Timestamp: time.Now().UTC()}
	select {
	case h.broadcast <- msg:
	default:
	}
}

func (h *Hub) run() {
	defer close(h.done)
	clients := make(map[*client]struct{})
	defer func() {
		for c := range clients {
			close(c.send)
		}
	}()

	for {
		select {
		case <-h.stop:
			return
		case c := <-h.register:
			clients[c] = struct{}{}
			metrics.WebSocketConnections.Inc()
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				metrics.WebSocketConnections.Dec()
			}
		case msg := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop the connection.
					delete(clients, c)
					close(c.send)
					metrics.WebSocketConnections.Dec()
				}
			}
		}
	}
}

// handleWebSocket upgrades the connection and subscribes it to the
// anomaly feed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan wsMessage, 32)}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		// Hub already stopped; nobody will ever receive the client.
		conn.Close()
		return
	}

	var once sync.Once
	closeClient := func() {
		once.Do(func() {
			select {
			case s.hub.unregister <- c:
			case <-s.hub.done:
			}
			conn.Close()
		})
	}

	// Writer: drains the send buffer onto the wire.
	go func() {
		defer closeClient()
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}()

	// Reader: the feed is one-way, but we must consume control frames
	// and notice disconnects.
	go func() {
		defer closeClient()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
