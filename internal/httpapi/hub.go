package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/positionledger/posengine/internal/metrics"
	"github.com/positionledger/posengine/internal/model"
)

// SnapshotMessage is the JSON payload pushed to live snapshot feed
// clients whenever the engine commits a new snapshot.
type SnapshotMessage struct {
	PositionKey        string `json:"positionKey"`
	DateBasis          string `json:"dateBasis"`
	BusinessDate       string `json:"businessDate"`
	NetQuantity        int64  `json:"netQuantity"`
	CalculationVersion int64  `json:"calculationVersion"`
	CalculationMethod  string `json:"calculationMethod"`
}

// Hub broadcasts committed snapshots to connected WebSocket clients. It
// implements engine.SnapshotObserver.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewHub creates a live snapshot feed hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine
// and lives for the process lifetime.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			slog.Info("live feed client connected", "total", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(len(h.clients)))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ObserveSnapshot implements engine.SnapshotObserver.
func (h *Hub) ObserveSnapshot(snap model.PositionSnapshot, basis model.DateBasis) {
	data, err := json.Marshal(SnapshotMessage{
		PositionKey:        snap.PositionKey,
		DateBasis:          string(basis),
		BusinessDate:       snap.BusinessDate.Format("2006-01-02"),
		NetQuantity:        snap.NetQuantity,
		CalculationVersion: snap.CalculationVersion,
		CalculationMethod:  string(snap.CalculationMethod),
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if the buffer is full to avoid blocking the calculation
		// engine's commit path.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
