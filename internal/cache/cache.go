// Package cache keeps cross-run state in Redis: the asset directory of the
// price provider and the per-wallet import lock.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix     = "lotkeeper:"
	directoryKey  = keyPrefix + "asset_directory"
	importLockKey = keyPrefix + "import_lock:"
)

const (
	DefaultDirectoryTTL = 24 * time.Hour
	DefaultLockTTL      = 10 * time.Minute
)

// releaseScript deletes the lock only while it is still held by the same run
var releaseScript = redis.NewScript(`
local value = redis.call("GET", KEYS[1])
if value and string.sub(value, 1, string.len(ARGV[1]) + 1) == ARGV[1] .. "," then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client wraps Redis operations for lotkeeper
type Client struct {
	client       *redis.Client
	directoryTTL time.Duration
	lockTTL      time.Duration
	logger       zerolog.Logger
}

// NewClient creates a new Redis client and checks the connection
func NewClient(redisURL string, logger zerolog.Logger) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("redis_addr", opt.Addr).Msg("Connected to Redis successfully")

	return &Client{
		client:       client,
		directoryTTL: DefaultDirectoryTTL,
		lockTTL:      DefaultLockTTL,
		logger:       logger.With().Str("component", "cache").Logger(),
	}, nil
}

// LoadDirectory returns the cached asset directory, false when nothing is cached
func (c *Client) LoadDirectory(ctx context.Context) (map[string]string, bool, error) {
	ids, err := c.client.HGetAll(ctx, directoryKey).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read asset directory: %w", err)
	}
	if len(ids) == 0 {
		return nil, false, nil
	}
	return ids, true, nil
}

// StoreDirectory replaces the cached asset directory
func (c *Client) StoreDirectory(ctx context.Context, ids map[string]string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, directoryKey)
		pipe.HSet(ctx, directoryKey, ids)
		pipe.Expire(ctx, directoryKey, c.directoryTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store asset directory: %w", err)
	}

	c.logger.Debug().Int("assets", len(ids)).Dur("ttl", c.directoryTTL).Msg("Stored asset directory")
	return nil
}

// AcquireImportLock marks wallet as being imported by runID.
// It returns false when another run holds the lock.
func (c *Client) AcquireImportLock(ctx context.Context, wallet, runID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, importLockKey+wallet, lockValue(runID, time.Now()), c.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire import lock: %w", err)
	}

	if !ok {
		holder, since, found := c.lockHolder(ctx, wallet)
		if found {
			c.logger.Debug().
				Str("wallet", wallet).
				Str("held_by", holder).
				Time("since", since).
				Msg("Import lock is held by another run")
		}
		return false, nil
	}

	c.logger.Debug().Str("wallet", wallet).Str("run_id", runID).Msg("Acquired import lock")
	return true, nil
}

// ReleaseImportLock frees the lock if runID still holds it
func (c *Client) ReleaseImportLock(ctx context.Context, wallet, runID string) error {
	if err := releaseScript.Run(ctx, c.client, []string{importLockKey + wallet}, runID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release import lock: %w", err)
	}

	c.logger.Debug().Str("wallet", wallet).Str("run_id", runID).Msg("Released import lock")
	return nil
}

func (c *Client) lockHolder(ctx context.Context, wallet string) (string, time.Time, bool) {
	value, err := c.client.Get(ctx, importLockKey+wallet).Result()
	if err != nil {
		return "", time.Time{}, false
	}
	return parseLockValue(value)
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// lockValue formats the lock value as "run,unix"
func lockValue(runID string, at time.Time) string {
	return runID + "," + strconv.FormatInt(at.Unix(), 10)
}

// parseLockValue splits a "run,unix" lock value
func parseLockValue(value string) (string, time.Time, bool) {
	runID, ts, found := strings.Cut(value, ",")
	if !found || runID == "" {
		return "", time.Time{}, false
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return runID, time.Unix(unix, 0), true
}
