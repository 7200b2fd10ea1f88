package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const maxFeedConnections = 50

// ExecutionUpdate is one status transition pushed over the live feed.
type ExecutionUpdate struct {
	ExecutionID string    `json:"execution_id"`
	RuleID      string    `json:"rule_id"`
	Status      string    `json:"status"`
	StepIndex   int       `json:"step_index"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Hub broadcasts execution transitions to connected operator dashboards.
// It satisfies the scheduler's Notifier contract.
type Hub struct {
	connections  map[*websocket.Conn]bool
	mutex        sync.Mutex
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: 5 * time.Second,
		logger:       logger,
	}
}

// Serve upgrades an operator connection and keeps it registered until it
// drops.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}

	h.mutex.Lock()
	if len(h.connections) >= maxFeedConnections {
		h.mutex.Unlock()
		h.logger.Warn("max feed connections reached, rejecting")
		conn.Close()
		return
	}
	h.connections[conn] = true
	total := len(h.connections)
	h.mutex.Unlock()
	h.logger.Infof("execution feed client connected (total: %d)", total)

	// Drain reads so close frames are processed; the feed is write-only.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.connections[conn]; ok {
		delete(h.connections, conn)
		conn.Close()
		h.logger.Infof("execution feed client disconnected (remaining: %d)", len(h.connections))
	}
}

// ExecutionTransition implements scheduler.Notifier. Each write carries a
// deadline so one stalled operator socket cannot block the scheduler
// workers; failed or timed-out writes drop the connection.
func (h *Hub) ExecutionTransition(executionID, ruleID, status string, stepIndex int, detail string) {
	update := ExecutionUpdate{
		ExecutionID: executionID,
		RuleID:      ruleID,
		Status:      status,
		StepIndex:   stepIndex,
		Detail:      detail,
		At:          time.Now(),
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn := range h.connections {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteJSON(update); err != nil {
			h.logger.Errorf("failed to push execution update: %v", err)
			delete(h.connections, conn)
			conn.Close()
		}
	}
}
