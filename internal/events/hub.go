package events

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mixelka/mailpush/pkg/models"
)

// Event is one frame pushed to a live connection
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewMessagePayload is the payload of a "new_message" event
type NewMessagePayload struct {
	MessageID int64  `json:"message_id"`
	AccountID int64  `json:"account_id"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
}

// Hub tracks each user's open websocket connections and pushes
// new-message events to them. Delivery is best-effort: a user with no
// open connection is a silent no-op, a failed write drops the
// connection.
type Hub struct {
	mu       sync.Mutex
	conns    map[int64]map[string]*websocket.Conn // userID -> clientID -> conn
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[int64]map[string]*websocket.Conn),
		logger: logger.With("component", "events_hub"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades an HTTP request to a live-update connection.
// Authentication happens upstream; the user id arrives as a query
// parameter set by the fronting layer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "missing or invalid user_id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	clientID := uuid.NewString()
	h.register(userID, clientID, conn)
	h.logger.Info("live connection opened", "user_id", userID, "client_id", clientID)

	// Block reading until the client goes away
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}

	h.unregister(userID, clientID)
	conn.Close()
	h.logger.Info("live connection closed", "user_id", userID, "client_id", clientID)
}

// PublishNewMessage pushes a new-message event to the user's open
// connections, if any.
func (h *Hub) PublishNewMessage(userID int64, msg *models.Message) {
	h.publish(userID, Event{
		Type: "new_message",
		Payload: NewMessagePayload{
			MessageID: msg.ID,
			AccountID: msg.AccountID,
			From:      msg.FromAddr,
			Subject:   msg.Subject,
		},
	})
}

func (h *Hub) publish(userID int64, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for clientID, conn := range h.conns[userID] {
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Debug("dropping dead live connection", "user_id", userID, "client_id", clientID)
			conn.Close()
			delete(h.conns[userID], clientID)
		}
	}
}

func (h *Hub) register(userID int64, clientID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[string]*websocket.Conn)
	}
	h.conns[userID][clientID] = conn
}

func (h *Hub) unregister(userID int64, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns[userID], clientID)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// ConnectionCount returns the number of open connections for a user
func (h *Hub) ConnectionCount(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}
