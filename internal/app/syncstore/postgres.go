package syncstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"ykchat/internal/app/db"
	"ykchat/internal/pkg/logx"
	"ykchat/internal/pkg/randx"
)

const (
	// pgNotifyChannel matches the channel used by the sync_nodes trigger.
	pgNotifyChannel = "sync_nodes"

	// listenRetryDelay is the pause before the listener reconnects.
	listenRetryDelay = 2 * time.Second

	// maxKeyAttempts bounds key regeneration after a key collision.
	maxKeyAttempts = 3
)

// appendSQL resolves ServerTimestamp placeholders and committed_at from the
// same transaction clock.
const appendSQL = `
INSERT INTO sync_nodes (path, node_key, value, committed_at)
VALUES ($1, $2, replace($3, $4, (floor(extract(epoch FROM now()) * 1000))::bigint::text)::jsonb, now())
RETURNING committed_at`

const loadSQL = `SELECT node_key, value FROM sync_nodes WHERE path = $1 ORDER BY seq`

// PostgresStore keeps children in the sync_nodes table. Commits fire a
// pg_notify trigger, which a dedicated LISTEN connection turns into watch
// re-reads.
type PostgresStore struct {
	pool   *pgxpool.Pool
	keys   *randx.KeyGenerator
	hub    *hub
	logger zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPostgresStore starts the notification listener on pool. The caller keeps
// ownership of pool and must close it after Close returns.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	ctx, cancel := context.WithCancel(context.Background())

	s := &PostgresStore{
		pool:   pool,
		keys:   randx.NewKeyGenerator(),
		logger: logx.Component("syncstore.postgres"),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.hub = newHub(s.load, s.logger)

	go s.listen(ctx)

	return s
}

// Watch implements Store.
func (s *PostgresStore) Watch(path string, onSnapshot func(Snapshot), onError func(error)) CancelFunc {
	return s.hub.add(path, onSnapshot, onError)
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, path string, value any) (AppendResult, error) {
	cleaned, err := CleanPath(path)
	if err != nil {
		return AppendResult{}, err
	}

	raw, err := encodeValue(value)
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to encode value for %s: %w", cleaned, err)
	}

	for attempt := 1; ; attempt++ {
		key, err := s.keys.PushKey(time.Now())
		if err != nil {
			return AppendResult{}, err
		}

		var committedAt time.Time
		err = s.pool.QueryRow(ctx, appendSQL, cleaned, key, string(raw), serverTimestampToken).Scan(&committedAt)
		if err == nil {
			return AppendResult{Key: key, CommittedAt: committedAt}, nil
		}

		if attempt < maxKeyAttempts && db.IsUniqueViolation(err, db.SyncNodesKeyConstraint) {
			s.logger.Warn().Str("path", cleaned).Str("key", key).Msg("Key collision, generating a new key.")
			continue
		}

		return AppendResult{}, fmt.Errorf("failed to append to %s: %w", cleaned, err)
	}
}

// Close stops the listener and cancels all watches.
func (s *PostgresStore) Close() error {
	s.cancel()
	<-s.done
	s.hub.close()
	return nil
}

func (s *PostgresStore) load(ctx context.Context, path string) (Snapshot, error) {
	rows, err := s.pool.Query(ctx, loadSQL, path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query %s: %w", path, err)
	}

	children, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Child, error) {
		var (
			key string
			raw []byte
		)
		if err := row.Scan(&key, &raw); err != nil {
			return Child{}, err
		}
		return Child{Key: key, Value: raw}, nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return Snapshot{Path: path, Children: children}, nil
}

// listen keeps one LISTEN connection alive until ctx is cancelled.
func (s *PostgresStore) listen(ctx context.Context) {
	defer close(s.done)

	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn().Err(err).Dur("retry_in", listenRetryDelay).Msg("Notification listener disconnected.")

		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryDelay):
		}
	}
}

func (s *PostgresStore) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	defer func() {
		// A LISTENing connection must not go back into the pool.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgNotifyChannel); err != nil {
		return fmt.Errorf("failed to LISTEN: %w", err)
	}

	s.logger.Info().Str("channel", pgNotifyChannel).Msg("Notification listener attached.")

	// Commits made while no listener was attached have to be picked up by a fresh read.
	s.hub.notifyAll()

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("failed waiting for notification: %w", err)
		}

		s.hub.notify(notification.Payload)
	}
}
