package bridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/events"
	syncpkg "github.com/dash-sync/internal/sync"
	"github.com/dash-sync/pkg/config"
	"github.com/dash-sync/pkg/models"
)

// hubClient is one local WebSocket consumer of the bridge.
type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans mirrored sync updates out to local WebSocket clients.
type Hub struct {
	cfg *config.BridgeConfig
	log *logrus.Entry
	bus *events.Bus

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]struct{}

	done   chan struct{}
	closer sync.Once
}

// NewHub creates the fanout hub and subscribes it to the sync bus.
func NewHub(cfg *config.BridgeConfig, bus *events.Bus, log *logrus.Logger) (*Hub, error) {
	h := &Hub{
		cfg: cfg,
		log: log.WithField("component", "hub"),
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true }, // local daemon
		},
		clients: make(map[*hubClient]struct{}),
		done:    make(chan struct{}),
	}

	if err := bus.Subscribe(events.TopicJobProgress, func(p models.JobProgress) {
		h.Broadcast("progress", p)
	}); err != nil {
		return nil, err
	}
	if err := bus.Subscribe(events.TopicJobState, func(s syncpkg.JobState) {
		h.Broadcast("job_state", s.Job)
	}); err != nil {
		return nil, err
	}
	if err := bus.Subscribe(events.TopicListing, func(jobs []models.Job) {
		h.Broadcast("snapshot", jobs)
	}); err != nil {
		return nil, err
	}
	if err := bus.Subscribe(events.TopicBars, func(chunk models.DataChunk) {
		h.Broadcast("data_chunk", chunk)
	}); err != nil {
		return nil, err
	}
	if err := bus.Subscribe(events.TopicStrategies, func(strategies []models.Strategy) {
		h.Broadcast("strategies_snapshot", strategies)
	}); err != nil {
		return nil, err
	}

	return h, nil
}

// ServeWS upgrades one HTTP request into a hub client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &hubClient{conn: conn, send: make(chan []byte, 256)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("clients", total).Debug("Client connected")

	go h.writeLoop(client)
	go h.readLoop(client)
}

// Broadcast sends one named event to every connected client.
func (h *Hub) Broadcast(event string, payload interface{}) {
	frame, err := json.Marshal(map[string]interface{}{"event": event, "data": payload})
	if err != nil {
		h.log.WithError(err).Warn("Failed to marshal broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- frame:
		default:
			// Slow consumer; drop the frame rather than block the fanout.
		}
	}
}

func (h *Hub) writeLoop(client *hubClient) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ping.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case <-h.done:
			return
		case frame, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			client.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(client *hubClient) {
	defer h.drop(client)

	client.conn.SetReadLimit(512 * 1024)
	client.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(client *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.closer.Do(func() {
		close(h.done)
		h.mu.Lock()
		for client := range h.clients {
			close(client.send)
			client.conn.Close()
			delete(h.clients, client)
		}
		h.mu.Unlock()
	})
}
