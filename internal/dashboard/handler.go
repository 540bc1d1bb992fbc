package dashboard

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/dispatch"
)

// Handler bridges daemon events to the WebSocket server. It satisfies the
// daemon's Notifier interface and translates each event into a broadcast
// message, keeping the most recent statistics for late-joining clients.
type Handler struct {
	server *Server
	logger *log.Logger

	mu        sync.Mutex
	lastStats *dispatch.SyncStats
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
	}
}

// DrainFinished broadcasts the outcome of a queue drain
func (h *Handler) DrainFinished(res *dispatch.Result) {
	if res == nil || res.Processed == 0 {
		return
	}

	h.logger.Printf("Drain finished: %d processed, %d succeeded, %d failed",
		res.Processed, res.Succeeded, res.Failed)

	data := DrainData{
		Processed: res.Processed,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
	}
	for _, opErr := range res.Errors {
		data.Errors = append(data.Errors, fmt.Sprintf("%s: %s", opErr.OperationKey, opErr.Message))
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal drain data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeDrain,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// ConnectivityChanged broadcasts a backend online/offline edge
func (h *Handler) ConnectivityChanged(online bool) {
	h.logger.Printf("Connectivity changed: online=%v", online)

	dataJSON, err := json.Marshal(ConnectivityData{Online: online})
	if err != nil {
		h.logger.Printf("Failed to marshal connectivity data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeConnectivity,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// StatsUpdated broadcasts fresh queue statistics
func (h *Handler) StatsUpdated(stats *dispatch.SyncStats) {
	if stats == nil {
		return
	}

	h.mu.Lock()
	h.lastStats = stats
	h.mu.Unlock()

	dataJSON, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// LastStats returns the most recently broadcast statistics, or nil if no
// drain has completed yet.
func (h *Handler) LastStats() *dispatch.SyncStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastStats
}
