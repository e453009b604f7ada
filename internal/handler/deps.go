package handler

import (
	"net/http"

	"ykchat/internal/app/chat"
	"ykchat/internal/configs"
)

// AppDeps holds the dependencies shared by all handlers.
type AppDeps struct {
	Config  *configs.AppConfig
	Manager *chat.Manager

	// BlobHandler serves /blobs/* when blobs are kept in process memory; nil otherwise.
	BlobHandler http.Handler
}
