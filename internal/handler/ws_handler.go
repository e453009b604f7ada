package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"ykchat/internal/app/chat"
	"ykchat/internal/pkg/errs"
	"ykchat/internal/pkg/limiter"
	"ykchat/internal/pkg/logx"
	"ykchat/internal/pkg/resp"
)

// HandleWebSocket upgrades the request and binds the connection to a new
// session subscribed to {roomID}. Unauthenticated clients identify themselves
// with the senderId and senderName query parameters.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(limiter.ClientIP(r)))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		roomID, customErr := roomIDParam(r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		query := r.URL.Query()
		sender, verified, customErr := resolveSender(r, query.Get("senderId"), query.Get("senderName"))
		if customErr != nil {
			logx.Warn("WebSocket request rejected: Missing sender identity", "room_id", roomID)
			resp.RespondError(w, r, customErr)
			return
		}

		session, err := deps.Manager.NewSession()
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			session.Close()
			return
		}

		client := chat.NewClient(session, conn, sender, verified)

		if customErr := session.Subscribe(roomID); customErr != nil {
			client.SendError(customErr)
		}

		logx.Info("WebSocket connection established", "session_id", session.ID, "room_id", roomID, "verified", verified)

		client.Run()
	}
}
