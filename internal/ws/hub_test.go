package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/doridoridoriand/classwatch/internal/display"
	"github.com/doridoridoriand/classwatch/internal/ws"
)

const testInterval = 20 * time.Millisecond

func startHub(t *testing.T, board *display.Board) (string, *ws.Hub, func()) {
	t.Helper()

	hub := ws.New(board, testInterval)
	ctx, cancel := context.WithCancel(context.Background())

	srv := httptest.NewServer(hub)
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var msg ws.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestHubSendsBoardOnConnect(t *testing.T) {
	board := display.NewBoard("Math 7-B")
	board.Publish(display.Row{StudentID: 1, Name: "Ali Ahmadi", Accuracy: "50.0%", Status: "Looking-1.00min ago"})
	url, _, _ := startHub(t, board)

	msg := readMessage(t, dial(t, url))
	if msg.Event != ws.EventClassroom {
		t.Fatalf("expected event %q, got %q", ws.EventClassroom, msg.Event)
	}
	if msg.Data.Class != "Math 7-B" || len(msg.Data.Rows) != 1 || msg.Data.Rows[0].Accuracy != "50.0%" {
		t.Fatalf("unexpected data %+v", msg.Data)
	}
}

func TestHubEmptyBoardSendsNotice(t *testing.T) {
	board := display.NewBoard("Math 7-B")
	board.Clear("no students found")
	url, _, _ := startHub(t, board)

	conn := dial(t, url)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(raw), `"rows":[]`) || !strings.Contains(string(raw), `"notice":"no students found"`) {
		t.Fatalf("unexpected payload %s", raw)
	}
}

func TestHubBroadcastsUpdates(t *testing.T) {
	board := display.NewBoard("Math 7-B")
	url, _, _ := startHub(t, board)

	conn := dial(t, url)
	readMessage(t, conn)

	board.Publish(display.Row{StudentID: 2, Name: "Sara Karimi", Accuracy: "N/A", Status: "No messages yet"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := readMessage(t, conn)
		if len(msg.Data.Rows) == 1 && msg.Data.Rows[0].StudentID == 2 {
			return
		}
	}
	t.Fatalf("update was never broadcast")
}

func TestHubCountsClients(t *testing.T) {
	url, hub, _ := startHub(t, display.NewBoard("c"))

	conn := dial(t, url)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 1 {
		t.Fatalf("Count: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Fatalf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHubCancelClosesConnections(t *testing.T) {
	url, hub, cancel := startHub(t, display.NewBoard("c"))

	conn := dial(t, url)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Fatalf("Count after cancel: got %d, want 0", n)
	}
}

func TestHubRejectsPlainHTTP(t *testing.T) {
	hub := ws.New(display.NewBoard("c"), testInterval)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestSnapshotHandler(t *testing.T) {
	board := display.NewBoard("Math 7-B")
	board.Publish(display.Row{StudentID: 1, Name: "Ali Ahmadi", Accuracy: "0%", Status: "Getting"})
	hub := ws.New(board, testInterval)

	rec := httptest.NewRecorder()
	hub.SnapshotHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/classroom", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap display.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(snap.Rows) != 1 || snap.Rows[0].Status != "Getting" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	rec = httptest.NewRecorder()
	hub.SnapshotHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/classroom", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
