package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/hermonbest/my-money-sub001/internal/daemon"
	"github.com/hermonbest/my-money-sub001/internal/dispatch"
)

// The handler must plug into the daemon as its event sink.
var _ daemon.Notifier = (*Handler)(nil)

func testLogger() *log.Logger {
	return log.New(io.Discard, "[test] ", log.LstdFlags)
}

func TestServerStartStop(t *testing.T) {
	config := &Config{
		Port:   0, // Use random available port
		Logger: testLogger(),
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	addr := server.GetAddr()
	if addr == "" {
		t.Fatal("Server address is empty")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnection(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: testLogger(),
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	// Read welcome message
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}

	if msg.Type != MessageTypeStats {
		t.Errorf("Expected welcome message type %s, got %s", MessageTypeStats, msg.Type)
	}
}

func TestWelcomeIncludesStats(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: testLogger(),
		Stats: func(ctx context.Context) (*dispatch.SyncStats, error) {
			return &dispatch.SyncStats{Pending: 7, Synced: 12}, nil
		},
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}

	var stats dispatch.SyncStats
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal welcome stats: %v", err)
	}
	if stats.Pending != 7 {
		t.Errorf("Expected 7 pending in welcome stats, got %d", stats.Pending)
	}
}

func TestMultipleClients(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: testLogger(),
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"

	numClients := 3
	clients := make([]*websocket.Conn, numClients)
	for i := 0; i < numClients; i++ {
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		clients[i] = conn

		// Read welcome message
		_, _, err = conn.Read(ctx)
		if err != nil {
			t.Fatalf("Failed to read welcome message for client %d: %v", i, err)
		}
	}

	if count := server.ClientCount(); count != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, count)
	}
}

func TestMessageBroadcast(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: testLogger(),
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Read welcome message
	_, _, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	testData := DrainData{
		Processed: 4,
		Succeeded: 3,
		Failed:    1,
		Errors:    []string{"inventory:item-9: backend unavailable"},
	}

	dataJSON, _ := json.Marshal(testData)
	server.Broadcast(Message{
		Type:      MessageTypeDrain,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast message: %v", err)
	}

	var received Message
	if err := json.Unmarshal(data, &received); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}

	if received.Type != MessageTypeDrain {
		t.Errorf("Expected message type %s, got %s", MessageTypeDrain, received.Type)
	}

	var receivedData DrainData
	if err := json.Unmarshal(received.Data, &receivedData); err != nil {
		t.Fatalf("Failed to unmarshal drain data: %v", err)
	}

	if receivedData.Processed != testData.Processed {
		t.Errorf("Expected %d processed, got %d", testData.Processed, receivedData.Processed)
	}
	if len(receivedData.Errors) != 1 {
		t.Errorf("Expected 1 error, got %d", len(receivedData.Errors))
	}
}

func TestStatsEndpoint(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: testLogger(),
		Stats: func(ctx context.Context) (*dispatch.SyncStats, error) {
			return &dispatch.SyncStats{
				Pending:   3,
				Retryable: 1,
				Synced:    9,
				ByTable:   map[string]int{"inventory": 2, "expenses": 1},
			}, nil
		},
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://" + server.GetAddr() + "/stats")
	if err != nil {
		t.Fatalf("Failed to fetch stats: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var stats dispatch.SyncStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}

	if stats.Pending != 3 {
		t.Errorf("Expected 3 pending, got %d", stats.Pending)
	}
	if stats.ByTable["inventory"] != 2 {
		t.Errorf("Expected 2 inventory operations, got %d", stats.ByTable["inventory"])
	}
}

func TestStatsEndpointUnavailable(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: testLogger(),
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://" + server.GetAddr() + "/stats")
	if err != nil {
		t.Fatalf("Failed to fetch stats: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: testLogger(),
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("Failed to fetch health: %v", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}

	if health.Status != "ok" {
		t.Errorf("Expected status ok, got %q", health.Status)
	}
	if health.Clients != 0 {
		t.Errorf("Expected 0 clients, got %d", health.Clients)
	}
}

func TestHandlerEvents(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: testLogger(),
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Read welcome message
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	handler := NewHandler(server, testLogger())

	handler.DrainFinished(&dispatch.Result{
		Processed: 2,
		Succeeded: 1,
		Failed:    1,
		Errors: []dispatch.OperationError{
			{OperationKey: "sales:sale-1", Message: "backend unavailable"},
		},
	})
	handler.ConnectivityChanged(true)
	handler.StatsUpdated(&dispatch.SyncStats{Pending: 1, Synced: 1})

	readMessage := func() Message {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Failed to read message: %v", err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to unmarshal message: %v", err)
		}
		return msg
	}

	drain := readMessage()
	if drain.Type != MessageTypeDrain {
		t.Fatalf("Expected drain message, got %s", drain.Type)
	}
	var drainData DrainData
	if err := json.Unmarshal(drain.Data, &drainData); err != nil {
		t.Fatalf("Failed to unmarshal drain data: %v", err)
	}
	if drainData.Succeeded != 1 || drainData.Failed != 1 {
		t.Errorf("Unexpected drain data: %+v", drainData)
	}
	if len(drainData.Errors) != 1 || drainData.Errors[0] != "sales:sale-1: backend unavailable" {
		t.Errorf("Unexpected drain errors: %v", drainData.Errors)
	}

	connectivity := readMessage()
	if connectivity.Type != MessageTypeConnectivity {
		t.Fatalf("Expected connectivity message, got %s", connectivity.Type)
	}
	var connData ConnectivityData
	if err := json.Unmarshal(connectivity.Data, &connData); err != nil {
		t.Fatalf("Failed to unmarshal connectivity data: %v", err)
	}
	if !connData.Online {
		t.Error("Expected online connectivity")
	}

	stats := readMessage()
	if stats.Type != MessageTypeStats {
		t.Fatalf("Expected stats message, got %s", stats.Type)
	}

	last := handler.LastStats()
	if last == nil || last.Pending != 1 {
		t.Errorf("Expected cached stats with 1 pending, got %+v", last)
	}
}

func TestHandlerSkipsEmptyDrains(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	handler := NewHandler(server, testLogger())
	handler.DrainFinished(&dispatch.Result{})
	handler.ConnectivityChanged(false)

	// The empty drain should have been swallowed, so the next message is
	// the connectivity edge.
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeConnectivity {
		t.Errorf("Expected connectivity message, got %s", msg.Type)
	}
}
