package syncstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"ykchat/internal/pkg/logx"
	"ykchat/internal/pkg/randx"
)

// appendScript commits one child atomically. The server clock comes from TIME,
// so every Redis client shares the same timeline.
//
// KEYS[1] nodes hash, KEYS[2] order zset, KEYS[3] sequence counter.
// ARGV[1] key, ARGV[2] JSON value, ARGV[3] placeholder token, ARGV[4] change channel, ARGV[5] path.
var appendScript = redis.NewScript(`
local t = redis.call('TIME')
local ms = t[1] .. string.format('%03d', math.floor(tonumber(t[2]) / 1000))
local token = string.gsub(ARGV[3], '%p', '%%%0')
local value = string.gsub(ARGV[2], token, ms)
if redis.call('HSETNX', KEYS[1], ARGV[1], value) == 0 then
  return redis.error_reply('KEYEXISTS')
end
local seq = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[2], seq, ARGV[1])
redis.call('PUBLISH', ARGV[4], ARGV[5])
return ms
`)

// RedisStore keeps each path in a hash of children plus a sorted set holding
// commit order. Appends publish the path on a change channel that every
// RedisStore instance subscribes to.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	pubsub *redis.PubSub
	keys   *randx.KeyGenerator
	hub    *hub
	logger zerolog.Logger

	done chan struct{}
}

// NewRedisStore subscribes to the change channel under prefix and returns the store.
func NewRedisStore(ctx context.Context, client redis.UniversalClient, prefix string) (*RedisStore, error) {
	s := &RedisStore{
		client: client,
		prefix: strings.TrimSuffix(prefix, ":"),
		keys:   randx.NewKeyGenerator(),
		logger: logx.Component("syncstore.redis"),
		done:   make(chan struct{}),
	}
	s.hub = newHub(s.load, s.logger)

	s.pubsub = client.Subscribe(ctx, s.changesChannel())
	if _, err := s.pubsub.Receive(ctx); err != nil {
		_ = s.pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.changesChannel(), err)
	}

	go s.consume()

	return s, nil
}

// Watch implements Store.
func (s *RedisStore) Watch(path string, onSnapshot func(Snapshot), onError func(error)) CancelFunc {
	return s.hub.add(path, onSnapshot, onError)
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, path string, value any) (AppendResult, error) {
	cleaned, err := CleanPath(path)
	if err != nil {
		return AppendResult{}, err
	}

	raw, err := encodeValue(value)
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to encode value for %s: %w", cleaned, err)
	}

	keys := []string{s.nodesKey(cleaned), s.orderKey(cleaned), s.seqKey(cleaned)}

	for attempt := 1; ; attempt++ {
		key, err := s.keys.PushKey(time.Now())
		if err != nil {
			return AppendResult{}, err
		}

		msText, err := appendScript.Run(ctx, s.client, keys,
			key, string(raw), serverTimestampToken, s.changesChannel(), cleaned).Text()
		if err == nil {
			ms, err := strconv.ParseInt(msText, 10, 64)
			if err != nil {
				return AppendResult{}, fmt.Errorf("unexpected commit time %q: %w", msText, err)
			}
			return AppendResult{Key: key, CommittedAt: time.UnixMilli(ms)}, nil
		}

		if attempt < maxKeyAttempts && strings.Contains(err.Error(), "KEYEXISTS") {
			s.logger.Warn().Str("path", cleaned).Str("key", key).Msg("Key collision, generating a new key.")
			continue
		}

		return AppendResult{}, fmt.Errorf("failed to append to %s: %w", cleaned, err)
	}
}

// Close unsubscribes and cancels all watches. The client stays open.
func (s *RedisStore) Close() error {
	err := s.pubsub.Close()
	<-s.done
	s.hub.close()
	return err
}

func (s *RedisStore) consume() {
	defer close(s.done)

	for event := range s.pubsub.ChannelWithSubscriptions() {
		s.handleEvent(event)
	}
}

// handleEvent turns a change message into a re-read of its path. A subscription
// confirmation after a reconnect re-reads every watch, since changes published
// while disconnected were never delivered.
func (s *RedisStore) handleEvent(event any) {
	switch e := event.(type) {
	case *redis.Message:
		s.hub.notify(e.Payload)

	case *redis.Subscription:
		if e.Kind == "subscribe" && e.Channel == s.changesChannel() {
			s.logger.Info().Str("channel", e.Channel).Msg("Change channel resubscribed.")
			s.hub.notifyAll()
		}
	}
}

func (s *RedisStore) load(ctx context.Context, path string) (Snapshot, error) {
	ids, err := s.client.ZRange(ctx, s.orderKey(path), 0, -1).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read order of %s: %w", path, err)
	}

	if len(ids) == 0 {
		return Snapshot{Path: path, Children: []Child{}}, nil
	}

	values, err := s.client.HMGet(ctx, s.nodesKey(path), ids...).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read children of %s: %w", path, err)
	}

	children := make([]Child, 0, len(ids))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		children = append(children, Child{Key: ids[i], Value: json.RawMessage(str)})
	}

	return Snapshot{Path: path, Children: children}, nil
}

// Keys of one path share a hash tag so the append script stays on one cluster slot.
func (s *RedisStore) nodesKey(path string) string { return fmt.Sprintf("%s:{%s}:nodes", s.prefix, path) }
func (s *RedisStore) orderKey(path string) string { return fmt.Sprintf("%s:{%s}:order", s.prefix, path) }
func (s *RedisStore) seqKey(path string) string   { return fmt.Sprintf("%s:{%s}:seq", s.prefix, path) }

func (s *RedisStore) changesChannel() string { return s.prefix + ":changes" }
