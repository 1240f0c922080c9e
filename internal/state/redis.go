package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/matst80/dialout/internal/obs"
	"github.com/redis/go-redis/v9"
)

// redisStore implements Store on Redis so stats and the tuned chunk size survive restarts.
type redisStore struct {
	client *redis.Client
	ns     string
	keyTTL time.Duration
}

// NewRedis connects to Redis and verifies the connection. Keys are prefixed with namespace.
func NewRedis(addr, password string, db int, namespace string) (Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	if namespace == "" {
		namespace = "dialout"
	}
	return &redisStore{client: rdb, ns: namespace, keyTTL: 30 * 24 * time.Hour}, nil
}

var _ Store = (*redisStore)(nil)

func (r *redisStore) key(name string) string { return r.ns + ":" + name }

func (r *redisStore) RecordSession(ctx context.Context, rec SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	statsKey := r.key("stats")
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, statsKey, "sessions", 1)
	switch rec.Reason {
	case "idle":
		pipe.HIncrBy(ctx, statsKey, "idle_disconnects", 1)
	case "error":
		pipe.HIncrBy(ctx, statsKey, "errors", 1)
	}
	pipe.HIncrBy(ctx, statsKey, "bytes_near_to_far", rec.NearToFar)
	pipe.HIncrBy(ctx, statsKey, "bytes_far_to_near", rec.FarToNear)
	pipe.LPush(ctx, r.key("recent"), data)
	pipe.LTrim(ctx, r.key("recent"), 0, RecentLimit-1)
	pipe.Expire(ctx, statsKey, r.keyTTL)
	pipe.Expire(ctx, r.key("recent"), r.keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record session: %w", err)
	}
	return nil
}

func (r *redisStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	fields, err := r.client.HGetAll(ctx, r.key("stats")).Result()
	if err != nil {
		return st, fmt.Errorf("redis stats: %w", err)
	}
	st.Sessions = parseCounter(fields["sessions"])
	st.IdleDisconnects = parseCounter(fields["idle_disconnects"])
	st.Errors = parseCounter(fields["errors"])
	st.BytesNearToFar = parseCounter(fields["bytes_near_to_far"])
	st.BytesFarToNear = parseCounter(fields["bytes_far_to_near"])

	raw, err := r.client.LRange(ctx, r.key("recent"), 0, RecentLimit-1).Result()
	if err != nil {
		return st, fmt.Errorf("redis recent sessions: %w", err)
	}
	for _, item := range raw {
		var rec SessionRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			obs.Error("redis.unmarshal_session", obs.Fields{"err": err.Error()})
			continue
		}
		st.Recent = append(st.Recent, rec)
	}
	return st, nil
}

func parseCounter(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func (r *redisStore) LoadChunkSize(ctx context.Context) (int, bool, error) {
	n, err := r.client.Get(ctx, r.key("chunk_size")).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redis load chunk size: %w", err)
	}
	return n, true, nil
}

func (r *redisStore) SaveChunkSize(ctx context.Context, size int) error {
	if err := r.client.Set(ctx, r.key("chunk_size"), size, r.keyTTL).Err(); err != nil {
		return fmt.Errorf("redis save chunk size: %w", err)
	}
	return nil
}

func (r *redisStore) Close() error { return r.client.Close() }
