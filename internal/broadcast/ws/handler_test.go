// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/internal/broadcast"
)

func dial(t *testing.T, srvURL string, query url.Values) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(srvURL)
	require.NoError(t, err)
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.RawQuery = query.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if resp != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *broadcast.Hub, worldID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers(worldID) == n },
		time.Second, 5*time.Millisecond)
}

func TestHandler_StreamsScopedEvents(t *testing.T) {
	hub := broadcast.NewHub(nil)
	srv := httptest.NewServer(NewHandler(hub, HandlerConfig{}))
	t.Cleanup(srv.Close)

	player := dial(t, srv.URL, url.Values{"world": {"w"}, "user": {"alice"}})
	waitForSubscribers(t, hub, "w", 1)

	ctx := context.Background()
	require.NoError(t, hub.Broadcast(ctx, "w", broadcast.ToDM(broadcast.EventApprovalRequired, nil)))
	require.NoError(t, hub.Broadcast(ctx, "w", broadcast.ToPlayers(broadcast.EventDialogueResponse, map[string]string{"text": "hello"})))

	var ev struct {
		Type    broadcast.EventType `json:"type"`
		WorldID string              `json:"world_id"`
		Payload map[string]string   `json:"payload"`
	}
	require.NoError(t, player.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, player.ReadJSON(&ev))
	assert.Equal(t, broadcast.EventDialogueResponse, ev.Type)
	assert.Equal(t, "w", ev.WorldID)
	assert.Equal(t, "hello", ev.Payload["text"])
}

func TestHandler_ForwardsInboundMessages(t *testing.T) {
	hub := broadcast.NewHub(nil)
	got := make(chan string, 1)
	handler := NewHandler(hub, HandlerConfig{
		OnMessage: func(_ context.Context, id Identity, data []byte) {
			got <- id.UserID + ":" + string(data)
		},
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dm := dial(t, srv.URL, url.Values{"world": {"w"}, "user": {"dm"}, "role": {"dm"}})
	require.NoError(t, dm.WriteMessage(websocket.TextMessage, []byte(`{"kind":"trigger_event"}`)))

	select {
	case msg := <-got:
		assert.Equal(t, `dm:{"kind":"trigger_event"}`, msg)
	case <-time.After(time.Second):
		t.Fatal("inbound message not delivered")
	}
}

func TestHandler_UnsubscribesOnClose(t *testing.T) {
	hub := broadcast.NewHub(nil)
	srv := httptest.NewServer(NewHandler(hub, HandlerConfig{}))
	t.Cleanup(srv.Close)

	conn := dial(t, srv.URL, url.Values{"world": {"w"}, "user": {"bob"}})
	waitForSubscribers(t, hub, "w", 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	waitForSubscribers(t, hub, "w", 0)
}

func TestQueryIdentity(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    Identity
		wantErr bool
	}{
		{"player default", "world=w&user=u", Identity{WorldID: "w", UserID: "u", Role: broadcast.RolePlayer}, false},
		{"dm", "world=w&user=u&role=dm", Identity{WorldID: "w", UserID: "u", Role: broadcast.RoleDM}, false},
		{"missing user", "world=w", Identity{}, true},
		{"bad role", "world=w&user=u&role=admin", Identity{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws?"+tt.query, nil)
			got, err := QueryIdentity(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandler_RejectsUnauthenticated(t *testing.T) {
	hub := broadcast.NewHub(nil)
	srv := httptest.NewServer(NewHandler(hub, HandlerConfig{}))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "?world=w")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
