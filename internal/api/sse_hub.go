package api

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gohts/domain/core"
	"gohts/internal/logging"
	"gohts/ports"
)

// SSEClient represents a connected SSE client
type SSEClient struct {
	RunID   core.RunID
	Channel chan RunEvent
}

// RunEvent is a progress event streamed to clients following a run
type RunEvent struct {
	RunID     core.RunID `json:"run_id"`
	Stage     string     `json:"stage"`
	Node      string     `json:"node,omitempty"`
	Done      int        `json:"done"`
	Total     int        `json:"total"`
	Progress  float64    `json:"progress"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// SSEHub fans run progress out to Server-Sent Events clients
type SSEHub struct {
	clients    map[core.RunID]map[chan RunEvent]bool
	clientsMu  sync.RWMutex
	register   chan SSEClient
	unregister chan SSEClient
	broadcast  chan RunEvent
	done       chan struct{}
	logger     zerolog.Logger
}

// NewSSEHub creates a hub and starts its loop. Close stops it.
func NewSSEHub() *SSEHub {
	hub := &SSEHub{
		clients:    make(map[core.RunID]map[chan RunEvent]bool),
		register:   make(chan SSEClient, 10),
		unregister: make(chan SSEClient, 10),
		broadcast:  make(chan RunEvent, 100),
		done:       make(chan struct{}),
		logger:     logging.Component("sse"),
	}

	go hub.run()
	return hub
}

// Close stops the hub loop.
func (h *SSEHub) Close() {
	close(h.done)
}

// run processes SSE hub operations
func (h *SSEHub) run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			if h.clients[client.RunID] == nil {
				h.clients[client.RunID] = make(map[chan RunEvent]bool)
			}
			h.clients[client.RunID][client.Channel] = true
			h.logger.Debug().Str("run_id", client.RunID.String()).Int("clients", len(h.clients[client.RunID])).Msg("client registered")
			h.clientsMu.Unlock()

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if clients, exists := h.clients[client.RunID]; exists {
				delete(clients, client.Channel)
				close(client.Channel)
				if len(clients) == 0 {
					delete(h.clients, client.RunID)
				}
			}
			h.clientsMu.Unlock()

		case event := <-h.broadcast:
			h.clientsMu.RLock()
			for clientChan := range h.clients[event.RunID] {
				select {
				case clientChan <- event:
				default:
					h.logger.Warn().Str("run_id", event.RunID.String()).Msg("client channel full, skipping event")
				}
			}
			h.clientsMu.RUnlock()
		}
	}
}

// Broadcast sends an event to all clients following its run
func (h *SSEHub) Broadcast(event RunEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Str("stage", event.Stage).Msg("broadcast channel full, dropping event")
	}
}

// Observer returns a progress observer that publishes the run's events
func (h *SSEHub) Observer(runID core.RunID) ports.ProgressObserver {
	return func(ev ports.ProgressEvent) {
		event := RunEvent{
			RunID:     runID,
			Stage:     ev.Stage,
			Node:      ev.Node,
			Done:      ev.Done,
			Total:     ev.Total,
			Timestamp: time.Now().UTC(),
		}
		if ev.Total > 0 {
			event.Progress = float64(ev.Done) / float64(ev.Total)
		}
		if ev.Err != nil {
			event.Error = ev.Err.Error()
		}
		h.Broadcast(event)
	}
}

// HandleSSE streams the progress of the run named by the :id parameter
func (h *SSEHub) HandleSSE(c *gin.Context) {
	runID, err := core.ParseRunID(c.Param("id"))
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientChan := make(chan RunEvent, 10)

	select {
	case h.register <- SSEClient{RunID: runID, Channel: clientChan}:
	default:
		c.JSON(500, gin.H{"error": "SSE hub registration failed"})
		return
	}

	defer func() {
		select {
		case h.unregister <- SSEClient{RunID: runID, Channel: clientChan}:
		default:
		}
	}()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-clientChan:
			if !ok {
				return false
			}
			eventJSON, err := json.Marshal(event)
			if err != nil {
				h.logger.Error().Err(err).Msg("failed to marshal event")
				return true
			}
			c.SSEvent("progress", string(eventJSON))
			return true

		case <-time.After(30 * time.Second):
			c.SSEvent("ping", `{"status": "alive", "timestamp": "`+time.Now().Format(time.RFC3339)+`"}`)
			return true

		case <-ctx.Done():
			return false
		}
	})
}

// GetClientCount returns the number of active clients for a run
func (h *SSEHub) GetClientCount(runID core.RunID) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	return len(h.clients[runID])
}
