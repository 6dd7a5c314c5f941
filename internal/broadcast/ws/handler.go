// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package ws streams broadcast events to WebSocket connections.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/broadcast"
)

// Defaults for connection upkeep.
const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
)

// Identity is who a connection belongs to.
type Identity struct {
	WorldID string
	UserID  string
	Role    broadcast.Role
}

// Authenticator resolves the identity of an upgrade request.
type Authenticator func(r *http.Request) (Identity, error)

// InboundFunc receives text frames sent by a client.
type InboundFunc func(ctx context.Context, id Identity, data []byte)

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Authenticate Authenticator
	OnMessage    InboundFunc
	WriteTimeout time.Duration
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Handler upgrades HTTP requests and pumps hub events to the connection.
type Handler struct {
	hub      *broadcast.Hub
	cfg      HandlerConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a handler for the hub.
func NewHandler(hub *broadcast.Hub, cfg HandlerConfig) *Handler {
	if cfg.Authenticate == nil {
		cfg.Authenticate = QueryIdentity
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:    hub,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// QueryIdentity reads the identity from the world, user and role query
// parameters. Role defaults to player.
func QueryIdentity(r *http.Request) (Identity, error) {
	q := r.URL.Query()
	id := Identity{
		WorldID: q.Get("world"),
		UserID:  q.Get("user"),
		Role:    broadcast.Role(q.Get("role")),
	}
	if id.Role == "" {
		id.Role = broadcast.RolePlayer
	}
	if id.WorldID == "" || id.UserID == "" {
		return Identity{}, oops.Code("WS_IDENTITY_MISSING").Errorf("world and user are required")
	}
	switch id.Role {
	case broadcast.RoleDM, broadcast.RolePlayer, broadcast.RoleSpectator:
	default:
		return Identity{}, oops.Code("WS_IDENTITY_INVALID").With("role", id.Role).Errorf("unknown role")
	}
	return id, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.cfg.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", id.UserID, "error", err)
		return
	}

	sub := h.hub.Subscribe(id.WorldID, id.UserID, id.Role)
	h.logger.Debug("websocket connected",
		"world_id", id.WorldID,
		"user_id", id.UserID,
		"role", id.Role,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(ctx, conn, sub)
	}()

	h.readLoop(ctx, conn, id)

	cancel()
	h.hub.Unsubscribe(sub)
	<-done
	_ = conn.Close()
	h.logger.Debug("websocket disconnected", "world_id", id.WorldID, "user_id", id.UserID)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, id Identity) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage || h.cfg.OnMessage == nil {
			continue
		}
		h.cfg.OnMessage(ctx, id, data)
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *broadcast.Subscription) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.writeClose(conn)
			return
		case ev, ok := <-sub.C:
			if !ok {
				h.writeClose(conn)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", "user_id", sub.UserID, "error", err)
				_ = conn.Close()
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *Handler) writeClose(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteTimeout))
}
