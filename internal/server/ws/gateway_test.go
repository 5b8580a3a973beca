/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"flycoord/internal/config"
	"flycoord/internal/marker"
	"flycoord/internal/txn"
)

func dialGateway(t *testing.T, g *Gateway) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(g.handleEvents))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Wait until the server side has registered the client.
	deadline := time.Now().Add(2 * time.Second)
	for g.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestPublishCompletionBroadcasts(t *testing.T) {
	g := NewGateway(&config.EventsConfig{Enabled: true, Addr: ":0"})
	conn := dialGateway(t, g)

	g.PublishCompletion(marker.CompletionEvent{
		AttemptID:       "attempt-1",
		TransactionalID: "txn-1",
		LogPartition:    7,
		Result:          txn.ResultCommit,
		Outcome:         marker.OutcomeCompleted,
		CompletedAt:     time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("invalid event JSON: %v", err)
	}
	if ev.Type != "completed" || ev.TransactionalID != "txn-1" || ev.LogPartition != 7 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Result != "commit" {
		t.Errorf("unexpected result: %s", ev.Result)
	}
}

func TestTimedOutEventType(t *testing.T) {
	g := NewGateway(&config.EventsConfig{Enabled: true, Addr: ":0"})
	conn := dialGateway(t, g)

	g.PublishCompletion(marker.CompletionEvent{
		TransactionalID: "txn-1",
		Result:          txn.ResultAbort,
		Outcome:         marker.OutcomeTimedOut,
		CompletedAt:     time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "timed-out" {
		t.Errorf("expected timed-out type, got %s", ev.Type)
	}
}

func TestCheckOrigin(t *testing.T) {
	g := NewGateway(&config.EventsConfig{
		Enabled:        true,
		Addr:           ":0",
		AllowedOrigins: []string{"https://ops.example.com"},
	})

	req := httptest.NewRequest("GET", "/events", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	if !g.checkOrigin(req) {
		t.Error("allowed origin rejected")
	}

	req.Header.Set("Origin", "https://evil.example.com")
	if g.checkOrigin(req) {
		t.Error("disallowed origin accepted")
	}

	open := NewGateway(&config.EventsConfig{Enabled: true, Addr: ":0"})
	if !open.checkOrigin(req) {
		t.Error("empty allow list should accept any origin")
	}
}
