package webui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/core"
)

func TestWebsocketReceivesEvents(t *testing.T) {
	t.Parallel()

	hub := core.NewHub()
	defer hub.Close()

	ws := NewWSHub(hub, zap.NewNop().Sugar())
	ws.Start()
	defer ws.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.ServeWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for ws.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if ws.ClientCount() != 1 {
		t.Fatal("client did not register")
	}

	sample := core.RainSample{Raining: true, Code: 1, Time: time.Now()}
	hub.Broadcast(&core.Event{
		Type: core.EventRainSample, Device: core.DeviceMotor,
		Time: sample.Time, Rain: &sample,
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev core.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != core.EventRainSample {
		t.Errorf("event type: want rain_sample, got %s", ev.Type)
	}
	if ev.Rain == nil || !ev.Rain.Raining {
		t.Errorf("payload: want raining sample, got %+v", ev.Rain)
	}
}
