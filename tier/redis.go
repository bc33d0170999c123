package tier

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis is a Redis-backed persistent tier. Each entry lives in a hash at
// "<prefix>:e:<key>"; a ZSET at "<prefix>:idx" keyed by last-access time
// (milliseconds) serves as the secondary index for eviction scans; a
// plain counter at "<prefix>:bytes" tracks the size estimate.
//
// Unlike a read-through cache layer, Put and Delete errors are surfaced
// to the caller: the manager needs them to roll back the memory tier and
// report transaction failures.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// entry hash fields.
const (
	fieldValue      = "v"
	fieldType       = "t"
	fieldSize       = "s"
	fieldCreated    = "ca"
	fieldLastAccess = "la"
)

// NewRedis creates a Redis-backed tier. prefix namespaces all keys; an
// empty prefix defaults to "nutstash".
func NewRedis(addr, password string, db int, prefix string) *Redis {
	if prefix == "" {
		prefix = "nutstash"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) entryKey(key string) string { return r.prefix + ":e:" + key }
func (r *Redis) indexKey() string           { return r.prefix + ":idx" }
func (r *Redis) bytesKey() string           { return r.prefix + ":bytes" }

// Get retrieves an entry by key.
func (r *Redis) Get(ctx context.Context, key string) (*Entry, bool, error) {
	fields, err := r.rdb.HGetAll(ctx, r.entryKey(key)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	if _, ok := fields[fieldValue]; !ok {
		// A hash without a value field is not an entry. Treat it as a
		// miss rather than serving an empty payload.
		return nil, false, nil
	}

	size, _ := strconv.ParseInt(fields[fieldSize], 10, 64)
	created, _ := strconv.ParseInt(fields[fieldCreated], 10, 64)
	access, _ := strconv.ParseInt(fields[fieldLastAccess], 10, 64)

	return &Entry{
		Key:          key,
		Value:        []byte(fields[fieldValue]),
		EntryType:    fields[fieldType],
		SizeBytes:    size,
		CreatedAt:    created,
		LastAccessAt: access,
	}, true, nil
}

// Put upserts an entry. The hash write, index update, and size counter
// adjustment are applied in a single MULTI/EXEC transaction; CreatedAt is
// written with HSETNX so a replace keeps the original value.
func (r *Redis) Put(ctx context.Context, e *Entry) error {
	// Read the previous size outside the transaction; the counter is an
	// estimate, not an invariant.
	oldSize, err := r.rdb.HGet(ctx, r.entryKey(e.Key), fieldSize).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.entryKey(e.Key),
		fieldValue, e.Value,
		fieldType, e.EntryType,
		fieldSize, e.SizeBytes,
		fieldLastAccess, e.LastAccessAt,
	)
	pipe.HSetNX(ctx, r.entryKey(e.Key), fieldCreated, e.CreatedAt)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(e.LastAccessAt), Member: e.Key})
	if delta := e.SizeBytes - oldSize; delta != 0 {
		pipe.IncrBy(ctx, r.bytesKey(), delta)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Delete removes an entry and its index member. Both removals run
// unconditionally so a half-present entry (hash without index member, or
// the reverse) is cleaned up rather than skipped.
func (r *Redis) Delete(ctx context.Context, key string) error {
	oldSize, err := r.rdb.HGet(ctx, r.entryKey(key), fieldSize).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, r.entryKey(key))
	pipe.ZRem(ctx, r.indexKey(), key)
	if oldSize != 0 {
		pipe.DecrBy(ctx, r.bytesKey(), oldSize)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Clear removes every entry under this tier's prefix.
func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.rdb.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return err
	}

	pipe := r.rdb.TxPipeline()
	for _, k := range keys {
		pipe.Del(ctx, r.entryKey(k))
	}
	pipe.Del(ctx, r.indexKey(), r.bytesKey())
	_, err = pipe.Exec(ctx)
	return err
}

// Count returns the number of stored entries.
func (r *Redis) Count(ctx context.Context) (int64, error) {
	return r.rdb.ZCard(ctx, r.indexKey()).Result()
}

// SizeEstimate returns the tracked size counter.
func (r *Redis) SizeEstimate(ctx context.Context) (int64, error) {
	n, err := r.rdb.Get(ctx, r.bytesKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// OldestFirst returns up to n keys ordered by ascending last-access time.
// Redis orders ZSET members with equal scores lexicographically, which
// gives the deterministic tie-break the eviction scan requires.
func (r *Redis) OldestFirst(ctx context.Context, n int64) ([]KeyStamp, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := r.rdb.ZRangeWithScores(ctx, r.indexKey(), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	stamps := make([]KeyStamp, 0, len(zs))
	for _, z := range zs {
		stamps = append(stamps, KeyStamp{
			Key:          z.Member.(string),
			LastAccessAt: int64(z.Score),
		})
	}
	return stamps, nil
}

// Recent returns metadata for up to n entries, most recently accessed
// first.
func (r *Redis) Recent(ctx context.Context, n int64) ([]EntryInfo, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := r.rdb.ZRevRangeWithScores(ctx, r.indexKey(), 0, n-1).Result()
	if err != nil {
		return nil, err
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.SliceCmd, len(zs))
	for i, z := range zs {
		cmds[i] = pipe.HMGet(ctx, r.entryKey(z.Member.(string)), fieldType, fieldSize)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	infos := make([]EntryInfo, 0, len(zs))
	for i, z := range zs {
		info := EntryInfo{
			Key:          z.Member.(string),
			LastAccessAt: int64(z.Score),
		}
		vals := cmds[i].Val()
		if len(vals) == 2 {
			if s, ok := vals[0].(string); ok {
				info.EntryType = s
			}
			if s, ok := vals[1].(string); ok {
				info.SizeBytes, _ = strconv.ParseInt(s, 10, 64)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// touchScript refreshes an entry's last-access time only while its index
// member still exists. The check and the writes run in one script, so a
// touch that loses a race with eviction is a clean no-op instead of
// recreating a partial hash for the evicted key.
//
// KEYS[1] = index ZSET, KEYS[2] = entry hash
// ARGV[1] = key, ARGV[2] = last-access field name, ARGV[3] = timestamp
var touchScript = redis.NewScript(`
if redis.call("ZSCORE", KEYS[1], ARGV[1]) then
	redis.call("HSET", KEYS[2], ARGV[2], ARGV[3])
	redis.call("ZADD", KEYS[1], ARGV[3], ARGV[1])
	return 1
end
return 0
`)

// Touch refreshes the last-access time of key. Absent keys are left
// untouched so the metadata write never resurrects a concurrently
// evicted entry.
func (r *Redis) Touch(ctx context.Context, key string, at int64) error {
	return touchScript.Run(ctx, r.rdb,
		[]string{r.indexKey(), r.entryKey(key)},
		key, fieldLastAccess, at).Err()
}

// Ping checks the Redis connection. Used at startup to decide whether
// the manager must fall back to degraded mode.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

var _ Store = (*Redis)(nil)
