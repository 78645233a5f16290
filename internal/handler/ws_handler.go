/*
Package handler provides the HTTP handlers and routing setup for the server.

This file contains the websocket upgrade handler. Connections are admitted
unauthenticated; everything after the upgrade, including authentication, runs
over the connection itself.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"buzzline/internal/app/chat"
	"buzzline/internal/pkg/errs"
	"buzzline/internal/pkg/limiter"
	"buzzline/internal/pkg/logx"
	"buzzline/internal/pkg/resp"
)

// HandleWebSocket upgrades the HTTP connection and runs the client's pumps.
// The request blocks in ReadPump for the connection's lifetime.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(deps.Gateway, conn)

		go client.WritePump()

		logx.Info("WebSocket connection established", "conn_id", client.ID())

		client.ReadPump()
	}
}
