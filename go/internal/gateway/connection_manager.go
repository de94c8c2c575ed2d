package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/eventbus"
	"github.com/mcdev12/wissel/go/internal/metrics"
)

// ConnectionManager manages WebSocket connections of live viewers
type ConnectionManager struct {
	// Connection pools organized by match code
	matchConnections map[string]map[*Connection]bool
	mu               sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	metrics  metrics.MetricsCollector

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a viewer
type Connection struct {
	ID        string
	ViewerID  string
	MatchCode string
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is an event to deliver to every viewer of a match
type BroadcastMessage struct {
	MatchCode string
	Envelope  eventbus.Envelope
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		CheckOrigin: func(r *http.Request) bool {
			// Viewers are anonymous and read-only
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, m metrics.MetricsCollector) *ConnectionManager {
	if m == nil {
		m = &metrics.NoOpMetricsCollector{}
	}
	return &ConnectionManager{
		matchConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		metrics:     m,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes broadcast messages until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, viewerID, matchCode string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		ViewerID:    viewerID,
		MatchCode:   matchCode,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("viewer_id", viewerID).
		Str("code", matchCode).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	if cm.matchConnections[conn.MatchCode] == nil {
		cm.matchConnections[conn.MatchCode] = make(map[*Connection]bool)
	}
	cm.matchConnections[conn.MatchCode][conn] = true
	count := len(cm.matchConnections[conn.MatchCode])
	total := cm.totalLocked()
	cm.mu.Unlock()

	cm.metrics.SetViewerConnections(total)
	log.Debug().
		Str("connection_id", conn.ID).
		Str("code", conn.MatchCode).
		Int("match_connections", count).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.matchConnections[conn.MatchCode]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	close(conn.Send)
	if len(connections) == 0 {
		delete(cm.matchConnections, conn.MatchCode)
	}
	total := cm.totalLocked()
	cm.mu.Unlock()

	cm.metrics.SetViewerConnections(total)
	log.Info().
		Str("connection_id", conn.ID).
		Str("viewer_id", conn.ViewerID).
		Str("code", conn.MatchCode).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) totalLocked() int {
	total := 0
	for _, connections := range cm.matchConnections {
		total += len(connections)
	}
	return total
}

// BroadcastToMatch queues an event for every viewer of the match
func (cm *ConnectionManager) BroadcastToMatch(matchCode string, env eventbus.Envelope) {
	select {
	case cm.broadcastCh <- BroadcastMessage{MatchCode: matchCode, Envelope: env}:
	default:
		log.Warn().Str("code", matchCode).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	data, err := json.Marshal(message.Envelope)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	// Sends happen under the read lock so a connection cannot be closed
	// mid-broadcast; slow ones are dropped afterwards.
	var slow []*Connection
	cm.mu.RLock()
	connections := cm.matchConnections[message.MatchCode]
	delivered := 0
	for conn := range connections {
		select {
		case conn.Send <- data:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("viewer_id", conn.ViewerID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(message.Envelope.Event.Type)).
		Str("code", message.MatchCode).
		Int("connections", delivered).
		Msg("event broadcasted")
}

// ConnectionStats summarizes the open connections
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveMatches    int            `json:"active_matches"`
	Matches          map[string]int `json:"matches"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveMatches: len(cm.matchConnections),
		Matches:       make(map[string]int, len(cm.matchConnections)),
	}
	for c, connections := range cm.matchConnections {
		stats.Matches[c] = len(connections)
		stats.TotalConnections += len(connections)
	}
	return stats
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump only keeps the read deadline alive; viewers do not send
// anything meaningful.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
