package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusCache keeps listing status labels in Redis in front of the ledger.
// Misses and Redis failures both report ok=false; the ledger stays the truth.
//
// Each entry is a hash {id, status, version}. Writes go through setNewer, so a
// reader that loaded an older version can never overwrite a newer entry.
type StatusCache struct {
	rdb *redis.Client
}

func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb}
}

// KEYS[1] entry; ARGV: version (zero-padded), status, id, ttl ms.
// Versions compare as fixed-width strings.
var setNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and cur > ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'status', ARGV[2], 'id', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// Version turns a listing's UpdatedAt into a cache version.
func Version(updatedAt time.Time) string {
	return fmt.Sprintf("%020d", updatedAt.UnixNano())
}

func (c *StatusCache) Get(ctx context.Context, id uint64) (string, bool) {
	if c == nil || c.rdb == nil {
		return "", false
	}
	vals, err := c.rdb.HMGet(ctx, fmt.Sprintf(KeyListingStatus, id), "id", "status").Result()
	if err != nil || len(vals) != 2 {
		return "", false
	}
	rawID, ok1 := vals[0].(string)
	status, ok2 := vals[1].(string)
	if !ok1 || !ok2 || rawID != strconv.FormatUint(id, 10) {
		return "", false
	}
	return status, true
}

// Set stores status for id unless the cache already holds a newer version.
// It reports whether the entry was written.
func (c *StatusCache) Set(ctx context.Context, id uint64, status, version string) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, nil
	}
	n, err := setNewer.Run(ctx, c.rdb,
		[]string{fmt.Sprintf(KeyListingStatus, id)},
		version, status, strconv.FormatUint(id, 10), TTLStatusCache.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *StatusCache) Invalidate(ctx context.Context, id uint64) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, fmt.Sprintf(KeyListingStatus, id)).Err()
}

// Idempotency maps client idempotency keys to the listing they created.
type Idempotency struct {
	rdb *redis.Client
}

func NewIdempotency(rdb *redis.Client) *Idempotency {
	return &Idempotency{rdb: rdb}
}

// Lookup returns the listing id stored for key, ok=false if none.
func (i *Idempotency) Lookup(ctx context.Context, key string) (uint64, bool, error) {
	if i == nil || i.rdb == nil || key == "" {
		return 0, false, nil
	}
	v, err := i.rdb.Get(ctx, fmt.Sprintf(KeyIdemListingCreate, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency key %q: %w", key, err)
	}
	return id, true, nil
}

func (i *Idempotency) Remember(ctx context.Context, key string, id uint64) error {
	if i == nil || i.rdb == nil || key == "" {
		return nil
	}
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemListingCreate, key), strconv.FormatUint(id, 10), TTLIdempotency).Err()
}
