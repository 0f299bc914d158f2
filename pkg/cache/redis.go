package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
)

// DefaultRedisKey is the hash holding every entry.
const DefaultRedisKey = "vidlens:analysis_cache"

// RedisIndex stores entries as JSON values in a single Redis hash keyed by
// fingerprint. Directory liveness is still checked on the local filesystem.
type RedisIndex struct {
	client redis.Cmdable
	key    string
	logger logging.Logger
}

// NewRedisIndex returns an index using client. An empty key uses DefaultRedisKey.
func NewRedisIndex(client redis.Cmdable, key string, logger logging.Logger) *RedisIndex {
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RedisIndex{
		client: client,
		key:    key,
		logger: logger.With(logging.F("component", "cache"), logging.F("backend", "redis")),
	}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %v: %w", addr, err, vlerrors.ErrCacheIO)
	}
	return client, nil
}

func (r *RedisIndex) Lookup(ctx context.Context, fingerprint string) (Entry, bool) {
	raw, err := r.client.HGet(ctx, r.key, fingerprint).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false
	}
	if err != nil {
		r.logger.Warn("cache lookup failed, treating as miss", logging.F("fingerprint", fingerprint), logging.Err(err))
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		r.logger.Warn("cache entry corrupt, treating as miss", logging.F("fingerprint", fingerprint), logging.Err(err))
		return Entry{}, false
	}
	if !dirExists(entry.AnalysisDir) {
		r.logger.Info("cache entry points at a missing directory, ignoring",
			logging.F("fingerprint", fingerprint),
			logging.F("analysis_dir", entry.AnalysisDir),
		)
		return Entry{}, false
	}
	return entry, true
}

func (r *RedisIndex) Register(ctx context.Context, fingerprint string, entry Entry) error {
	if fingerprint == "" || entry.AnalysisDir == "" {
		return fmt.Errorf("register requires a fingerprint and a directory: %w", vlerrors.ErrValidation)
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %v: %w", err, vlerrors.ErrCacheIO)
	}
	if err := r.client.HSet(ctx, r.key, fingerprint, data).Err(); err != nil {
		return fmt.Errorf("store cache entry: %v: %w", err, vlerrors.ErrCacheIO)
	}
	return nil
}

func (r *RedisIndex) List(ctx context.Context) ([]Listing, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %v: %w", err, vlerrors.ErrCacheIO)
	}

	out := make([]Listing, 0, len(all))
	for fp, raw := range all {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			r.logger.Warn("skipping corrupt cache entry", logging.F("fingerprint", fp), logging.Err(err))
			continue
		}
		if dirExists(entry.AnalysisDir) {
			out = append(out, Listing{Fingerprint: fp, Entry: entry})
		}
	}
	sortListings(out)
	return out, nil
}

func (r *RedisIndex) Remove(ctx context.Context, fingerprint string) error {
	n, err := r.client.HDel(ctx, r.key, fingerprint).Result()
	if err != nil {
		return fmt.Errorf("remove cache entry: %v: %w", err, vlerrors.ErrCacheIO)
	}
	if n == 0 {
		return fmt.Errorf("cache entry %s: %w", fingerprint, vlerrors.ErrNotFound)
	}
	return nil
}

// Prune drops entries whose directories are gone and returns how many were removed.
func (r *RedisIndex) Prune(ctx context.Context) (int, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("list cache entries: %v: %w", err, vlerrors.ErrCacheIO)
	}

	var stale []string
	for fp, raw := range all {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || !dirExists(entry.AnalysisDir) {
			stale = append(stale, fp)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := r.client.HDel(ctx, r.key, stale...).Err(); err != nil {
		return 0, fmt.Errorf("prune cache entries: %v: %w", err, vlerrors.ErrCacheIO)
	}
	return len(stale), nil
}
