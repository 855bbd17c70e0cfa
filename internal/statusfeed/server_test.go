package statusfeed

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepilot/tablepilot/internal/coordinator"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer("127.0.0.1:0", log.New(io.Discard))
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws", s.Addr())
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		var err error
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHealthEndpoint(t *testing.T) {
	s := startTestServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBroadcastReachesObserver(t *testing.T) {
	s := startTestServer(t)
	conn := dial(t, s)

	event := coordinator.Event{
		Type:      coordinator.EventRoundComplete,
		TableID:   3,
		Timestamp: time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC),
		Round: &coordinator.RoundPayload{
			RoundNumber: 7,
			Winner:      "side2",
			Decision:    "side1",
			Result:      "incorrect",
		},
	}

	// The register handoff is asynchronous; keep broadcasting until
	// the observer sees a frame.
	received := make(chan []byte, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- data
		}
	}()

	var data []byte
	require.Eventually(t, func() bool {
		s.Broadcast(event)
		select {
		case data = <-received:
			return true
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)

	var got coordinator.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, coordinator.EventRoundComplete, got.Type)
	assert.Equal(t, 3, got.TableID)
	require.NotNil(t, got.Round)
	assert.Equal(t, 7, got.Round.RoundNumber)
	assert.Equal(t, "side2", got.Round.Winner)
	assert.Nil(t, got.Status, "unused payloads stay empty")
}

func TestBroadcastWithNoObservers(t *testing.T) {
	s := startTestServer(t)
	// Must not block or panic.
	s.Broadcast(coordinator.Event{Type: coordinator.EventStatus, TableID: 1})
}

func TestPumpClosesWithChannel(t *testing.T) {
	s := startTestServer(t)

	events := make(chan coordinator.Event, 2)
	events <- coordinator.Event{Type: coordinator.EventStatus, TableID: 1}
	close(events)

	done := make(chan struct{})
	go func() {
		s.Pump(events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Pump did not return after channel close")
	}
}
