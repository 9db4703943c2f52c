package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// usageKeyPrefix namespaces quota records in the store.
	usageKeyPrefix = "usage_limit:"
	// clearKeyPrefix namespaces invalidation sentinels written by external
	// systems; the sync loop consumes and deletes them.
	clearKeyPrefix = "usage_limit_clear:"
)

var (
	// ErrNotFound reports that the store has no record for the user.
	ErrNotFound = errors.New("usage record not found")
	// ErrNoConnection reports that no store connection is available.
	// Callers fail fast on it; reconnection is the sync loop's job.
	ErrNoConnection = errors.New("no quota store connection available")
)

// QuotaStore is the limiter's view of the authoritative quota store.
type QuotaStore interface {
	Connect(ctx context.Context) error
	Connected() bool
	// Fetch returns the record for userID, ErrNotFound, or an error.
	Fetch(ctx context.Context, userID string) (*UsageRecord, error)
	// Increment atomically adds the deltas to the stored record and returns
	// the post-increment record. Both deltas zero is a no-op returning
	// (nil, nil). A missing record surfaces ErrNotFound.
	Increment(ctx context.Context, userID string, tokens int64, cost float64) (*UsageRecord, error)
	// ScanUsers returns the user IDs that have quota records.
	ScanUsers(ctx context.Context) ([]string, error)
	// ScanClearSignals returns user IDs with pending invalidation sentinels.
	ScanClearSignals(ctx context.Context) ([]string, error)
	DeleteClearSignal(ctx context.Context, userID string) error
	Close() error
}

// incrementScript mutates the JSON quota record in place so concurrent
// gateways never interleave a read-modify-write.
var incrementScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return redis.error_reply("NOT_FOUND")
end
local rec = cjson.decode(raw)
rec.tokens_used = (rec.tokens_used or 0) + tonumber(ARGV[1])
rec.cost_used = (rec.cost_used or 0) + tonumber(ARGV[2])
rec.update_id = (rec.update_id or 0) + 1
local out = cjson.encode(rec)
redis.call("SET", KEYS[1], out)
return out
`)

// RedisStore is the Redis-backed QuotaStore. The connection handle is
// shared behind a read/write lock: readers clone the cheap client handle,
// and any caller that sees a connection-failure signature clears it so the
// sync loop re-establishes it on the next tick.
type RedisStore struct {
	url     string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	client *redis.Client
}

var _ QuotaStore = (*RedisStore)(nil)

// NewRedisStore creates a store handle without connecting.
func NewRedisStore(url string, timeout time.Duration, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisStore{url: url, timeout: timeout, logger: logger}
}

// Connect establishes a fresh connection, replacing any existing handle.
func (s *RedisStore) Connect(ctx context.Context) error {
	opts, err := redis.ParseURL(s.url)
	if err != nil {
		return fmt.Errorf("parse quota store url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("connect quota store: %w", err)
	}

	s.mu.Lock()
	old := s.client
	s.client = client
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Connected reports whether a connection handle is present.
func (s *RedisStore) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

func (s *RedisStore) get() *redis.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// teardown clears the shared handle so the next sync tick reconnects.
func (s *RedisStore) teardown() {
	s.mu.Lock()
	old := s.client
	s.client = nil
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	s.logger.Warn("quota store connection torn down, awaiting scheduled reconnect")
}

// checkErr routes a command error through the connection-failure heuristics,
// tearing down the shared handle when it matches.
func (s *RedisStore) checkErr(err error) error {
	if isConnectionFailure(err) {
		s.teardown()
	}
	return err
}

func (s *RedisStore) Fetch(ctx context.Context, userID string) (*UsageRecord, error) {
	client := s.get()
	if client == nil {
		return nil, ErrNoConnection
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := client.Get(ctx, usageKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.checkErr(fmt.Errorf("fetch usage record: %w", err))
	}

	var rec UsageRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("malformed usage record for %s: %w", userID, err)
	}
	return &rec, nil
}

func (s *RedisStore) Increment(ctx context.Context, userID string, tokens int64, cost float64) (*UsageRecord, error) {
	if tokens == 0 && cost == 0 {
		return nil, nil
	}
	client := s.get()
	if client == nil {
		return nil, ErrNoConnection
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := incrementScript.Run(ctx, client, []string{usageKeyPrefix + userID}, tokens, cost).Text()
	if err != nil {
		if strings.Contains(err.Error(), "NOT_FOUND") {
			return nil, ErrNotFound
		}
		return nil, s.checkErr(fmt.Errorf("increment usage record: %w", err))
	}

	var rec UsageRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("malformed usage record for %s: %w", userID, err)
	}
	return &rec, nil
}

func (s *RedisStore) ScanUsers(ctx context.Context) ([]string, error) {
	return s.scanPrefix(ctx, usageKeyPrefix)
}

func (s *RedisStore) ScanClearSignals(ctx context.Context) ([]string, error) {
	return s.scanPrefix(ctx, clearKeyPrefix)
}

// scanPrefix walks the keyspace under prefix. A connection failure tears
// down the handle and stops the pagination early, returning what was seen
// so far along with the error.
func (s *RedisStore) scanPrefix(ctx context.Context, prefix string) ([]string, error) {
	client := s.get()
	if client == nil {
		return nil, ErrNoConnection
	}

	var users []string
	iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		users = append(users, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return users, s.checkErr(fmt.Errorf("scan %s*: %w", prefix, err))
	}
	return users, nil
}

func (s *RedisStore) DeleteClearSignal(ctx context.Context, userID string) error {
	client := s.get()
	if client == nil {
		return ErrNoConnection
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := client.Del(ctx, clearKeyPrefix+userID).Err(); err != nil {
		return s.checkErr(fmt.Errorf("delete clear signal: %w", err))
	}
	return nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// connectionFailureSignatures are substrings that mark an error as
// connection-level. The client library does not classify every transport
// failure uniformly, so message matching backs up the typed checks.
var connectionFailureSignatures = []string{
	"broken pipe",
	"connection reset",
	"connection refused",
	"connection closed",
	"client is closed",
	"not connected",
	"use of closed network connection",
	"eof",
	"socket",
	"timeout",
}

// isConnectionFailure reports whether err looks like a connection-level
// failure that warrants tearing down the shared handle.
func isConnectionFailure(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range connectionFailureSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
