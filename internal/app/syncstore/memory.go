package syncstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ykchat/internal/pkg/logx"
	"ykchat/internal/pkg/randx"
)

// MemoryStore keeps all paths in process memory. It serves development setups
// and tests; its clock stands in for the server clock.
type MemoryStore struct {
	// mu protects nodes.
	mu    sync.RWMutex
	nodes map[string][]Child

	clock func() time.Time
	keys  *randx.KeyGenerator
	hub   *hub
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces the clock used to resolve ServerTimestamp.
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.clock = clock
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		nodes: make(map[string][]Child),
		clock: time.Now,
		keys:  randx.NewKeyGenerator(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.hub = newHub(s.load, logx.Component("syncstore.memory"))

	return s
}

// Watch implements Store.
func (s *MemoryStore) Watch(path string, onSnapshot func(Snapshot), onError func(error)) CancelFunc {
	return s.hub.add(path, onSnapshot, onError)
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, path string, value any) (AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	cleaned, err := CleanPath(path)
	if err != nil {
		return AppendResult{}, err
	}

	raw, err := encodeValue(value)
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to encode value for %s: %w", cleaned, err)
	}

	s.mu.Lock()
	committedAt := s.clock()

	key, err := s.keys.PushKey(committedAt)
	if err != nil {
		s.mu.Unlock()
		return AppendResult{}, err
	}

	s.nodes[cleaned] = append(s.nodes[cleaned], Child{
		Key:   key,
		Value: resolveServerValues(raw, committedAt.UnixMilli()),
	})
	s.mu.Unlock()

	s.hub.notify(cleaned)

	return AppendResult{Key: key, CommittedAt: committedAt}, nil
}

// Put writes value under an explicit key, replacing an existing child in place.
// ServerTimestamp placeholders are resolved like in Append.
func (s *MemoryStore) Put(path, key string, value any) error {
	cleaned, err := CleanPath(path)
	if err != nil {
		return err
	}

	if key == "" {
		return fmt.Errorf("empty key for %s: %w", cleaned, ErrInvalidPath)
	}

	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s/%s: %w", cleaned, key, err)
	}

	s.mu.Lock()
	child := Child{Key: key, Value: resolveServerValues(raw, s.clock().UnixMilli())}

	replaced := false
	for i := range s.nodes[cleaned] {
		if s.nodes[cleaned][i].Key == key {
			s.nodes[cleaned][i] = child
			replaced = true
			break
		}
	}
	if !replaced {
		s.nodes[cleaned] = append(s.nodes[cleaned], child)
	}
	s.mu.Unlock()

	s.hub.notify(cleaned)

	return nil
}

// Len returns the number of children under path.
func (s *MemoryStore) Len(path string) int {
	cleaned, err := CleanPath(path)
	if err != nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.nodes[cleaned])
}

// Close cancels all watches.
func (s *MemoryStore) Close() error {
	s.hub.close()
	return nil
}

func (s *MemoryStore) load(ctx context.Context, path string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	children := make([]Child, len(s.nodes[path]))
	copy(children, s.nodes[path])

	return Snapshot{Path: path, Children: children}, nil
}
