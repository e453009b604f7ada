/*
Package handler wires the HTTP and WebSocket surface of the chat server.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"ykchat/internal/pkg/auth/jwt"
	"ykchat/internal/pkg/limiter"
	"ykchat/internal/pkg/logx"
	"ykchat/internal/pkg/resp"
)

const (
	ConnectRate  = 0.2
	ConnectBurst = 5
	UploadRate   = 0.5
	UploadBurst  = 5
)

// Router builds the routing table. The returned stop function releases the
// rate limiters and should be called on shutdown.
func Router(deps *AppDeps) (http.Handler, func()) {
	connectLimiter := limiter.NewIPRateLimiter(rate.Limit(ConnectRate), ConnectBurst)
	uploadLimiter := limiter.NewIPRateLimiter(rate.Limit(UploadRate), UploadBurst)

	stop := func() {
		connectLimiter.Stop()
		uploadLimiter.Stop()
	}

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]any{
			"status":   "ok",
			"service":  "YK Chat Server",
			"store":    deps.Config.StoreDriver,
			"blobs":    deps.Config.BlobDriver,
			"sessions": deps.Manager.Count(),
		})
	})

	r.Route("/api/rooms/{roomID}", func(room chi.Router) {
		room.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		room.Get("/messages", HandleListMessages(deps))
		room.Post("/messages", HandleSendMessage(deps))
		room.With(uploadLimiter.Middleware).Post("/images", HandleUploadImage(deps))
	})

	r.With(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret)).
		Get("/ws/{roomID}", HandleWebSocket(deps, wsUpgrader, connectLimiter))

	if deps.BlobHandler != nil {
		r.Handle("/blobs/*", http.StripPrefix("/blobs", deps.BlobHandler))
	}

	return r, stop
}
