/*
Package main is the entry point for the YK Chat server.

It loads configuration, initializes the global logger, opens the synchronized
store and the blob store selected by the configuration, serves the HTTP and
WebSocket routes and shuts everything down in order on SIGINT or SIGTERM.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ykchat/internal/app/chat"
	"ykchat/internal/app/db"
	"ykchat/internal/app/storage"
	"ykchat/internal/app/syncstore"
	"ykchat/internal/configs"
	"ykchat/internal/handler"
	"ykchat/internal/pkg/logx"
)

// closer is a resource released on shutdown, in reverse order of opening.
type closer struct {
	name  string
	close func() error
}

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("store_driver", cfg.StoreDriver).
		Str("blob_driver", cfg.BlobDriver).
		Int("max_image_size_mb", cfg.MaxImageSizeMB).
		Bool("identity_tokens", cfg.JWTSecret != "").
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal(err, "Server stopped with an error")
	}
}

// run serves until ctx is cancelled. Resources opened so far are released
// before it returns, also on error.
func run(ctx context.Context, cfg *configs.AppConfig) (err error) {
	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if closeErr := closers[i].close(); closeErr != nil {
				logx.Error(closeErr, "Failed to close resource", "resource", closers[i].name)
			}
		}
	}()

	store, storeClosers, err := openStore(ctx, cfg)
	closers = append(closers, storeClosers...)
	if err != nil {
		return fmt.Errorf("failed to open synchronized store %q: %w", cfg.StoreDriver, err)
	}

	deps := &handler.AppDeps{Config: cfg}

	var blobs storage.BlobStore
	switch cfg.BlobDriver {
	case configs.BlobS3:
		blobs, err = storage.NewStorageService(ctx, storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
			PublicBaseURL:     cfg.S3PublicBaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize blob storage: %w", err)
		}
	default:
		memoryBlobs := storage.NewMemoryStore(cfg.BlobPublicBaseURL)
		blobs = memoryBlobs
		deps.BlobHandler = memoryBlobs
	}

	// Initialize Chat Manager
	deps.Manager = chat.NewManager(store, blobs, chat.WithMaxImageSize(cfg.MaxImageSize()))

	// Setup HTTP server and routes
	router, stopLimiters := handler.Router(deps)
	defer stopLimiters()

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
		// Image uploads need more than the usual write budget.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logx.Info(fmt.Sprintf("YK Chat Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logx.Info("Received shutdown signal. Starting graceful shutdown...")
	case err = <-serverErr:
		err = fmt.Errorf("server failed to start: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logx.Error(shutdownErr, "Server forced to shutdown")
	}

	// Hijacked WebSocket connections survive server.Shutdown; closing the
	// sessions ends them.
	deps.Manager.Shutdown()

	if err == nil {
		logx.Info("Server gracefully stopped.")
	}

	return err
}

// openStore opens the synchronized store for cfg.StoreDriver. The returned
// closers are valid even when err is set.
func openStore(ctx context.Context, cfg *configs.AppConfig) (syncstore.Store, []closer, error) {
	switch cfg.StoreDriver {
	case configs.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		closers := []closer{{name: "postgres pool", close: func() error { pool.Close(); return nil }}}

		store := syncstore.NewPostgresStore(pool)
		closers = append(closers, closer{name: "postgres store", close: store.Close})

		logx.Info("Synchronized store ready", "driver", cfg.StoreDriver)
		return store, closers, nil

	case configs.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}

		client := redis.NewClient(opts)
		closers := []closer{{name: "redis client", close: client.Close}}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, closers, fmt.Errorf("failed to ping redis: %w", err)
		}

		store, err := syncstore.NewRedisStore(ctx, client, cfg.RedisPrefix)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, closer{name: "redis store", close: store.Close})

		logx.Info("Synchronized store ready", "driver", cfg.StoreDriver, "prefix", cfg.RedisPrefix)
		return store, closers, nil

	default:
		store := syncstore.NewMemoryStore()
		logx.Warn("Using in-memory synchronized store; messages are lost on restart")
		return store, []closer{{name: "memory store", close: store.Close}}, nil
	}
}
