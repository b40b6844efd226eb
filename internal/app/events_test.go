package app

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scribe/api/internal/editor"

	"github.com/gorilla/websocket"
)

func TestHubPublishWithoutSubscribersIsNoOp(t *testing.T) {
	hub := NewHub("*", nil)
	hub.Publish(editor.Event{Type: editor.EventSaved, DraftID: "d1"})
	if hub.Subscribers("d1") != 0 {
		t.Fatal("expected no subscribers")
	}
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	hub := NewHub("*", nil)
	sub := hub.subscribe("d1")
	for i := 0; i < subscriberSize+10; i++ {
		hub.Publish(editor.Event{Type: editor.EventWarnings, DraftID: "d1"})
	}
	if len(sub.send) != subscriberSize {
		t.Fatalf("expected a full queue of %d, got %d", subscriberSize, len(sub.send))
	}

	hub.Publish(editor.Event{Type: editor.EventSaved, DraftID: "other"})
	hub.unsubscribe("d1", sub)
	hub.unsubscribe("d1", sub)
	if hub.Subscribers("d1") != 0 {
		t.Fatal("subscriber not removed")
	}
}

func TestEventsStreamOverWebsocket(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "Avery")
	env.do(t, "POST", "/api/drafts/d1/open", token, "")

	server := httptest.NewServer(env.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/drafts/d1/events?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read initial event: %v", err)
	}
	var first editor.Event
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if first.Type != editor.EventState || first.State == nil || first.State.DraftID != "d1" {
		t.Fatalf("unexpected initial event: %s", data)
	}
}

func TestEventsRequireToken(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/drafts/d1/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake to fail without a token")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %+v", resp)
	}
}
