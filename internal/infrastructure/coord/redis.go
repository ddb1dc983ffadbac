package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
)

const (
	lockKeyPrefix = "lock:"
	runKeyPrefix  = "run:"
	cursorKey     = "scan:cursor"
	auditKey      = "audit"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config holds coordination store settings.
type Config struct {
	// KeyPrefix namespaces every key, e.g. "vidmaint:".
	KeyPrefix string
	// AuditMaxEntries caps the audit ring.
	AuditMaxEntries int
	// ProgressTTL bounds how long run progress stays readable.
	ProgressTTL time.Duration
}

// RedisCoordinator implements repository.Coordinator using Redis.
type RedisCoordinator struct {
	client *redis.Client
	cfg    Config
}

// Compile-time verification that RedisCoordinator implements Coordinator.
var _ repository.Coordinator = (*RedisCoordinator)(nil)

// NewRedisCoordinator creates a coordinator backed by client.
func NewRedisCoordinator(client *redis.Client, cfg Config) *RedisCoordinator {
	if cfg.AuditMaxEntries <= 0 {
		cfg.AuditMaxEntries = 200
	}
	if cfg.ProgressTTL <= 0 {
		cfg.ProgressTTL = 24 * time.Hour
	}
	return &RedisCoordinator{
		client: client,
		cfg:    cfg,
	}
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("redis release lock: %w", err)
	}
	return nil
}

// AcquireLock takes the lock for key with SET NX and a random token.
func (c *RedisCoordinator) AcquireLock(ctx context.Context, key string, ttl time.Duration) (repository.Lock, error) {
	lockKey := c.key(lockKeyPrefix + key)
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis set lock: %w", err)
	}
	if !ok {
		return nil, repository.ErrLockHeld
	}

	return &redisLock{client: c.client, key: lockKey, token: token}, nil
}

// ScanCursor returns the stored continuation token, or "" when absent.
func (c *RedisCoordinator) ScanCursor(ctx context.Context) (string, error) {
	token, err := c.client.Get(ctx, c.key(cursorKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis get cursor: %w", err)
	}
	return token, nil
}

func (c *RedisCoordinator) SetScanCursor(ctx context.Context, token string) error {
	if err := c.client.Set(ctx, c.key(cursorKey), token, 0).Err(); err != nil {
		return fmt.Errorf("redis set cursor: %w", err)
	}
	return nil
}

func (c *RedisCoordinator) ClearScanCursor(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key(cursorKey)).Err(); err != nil {
		return fmt.Errorf("redis del cursor: %w", err)
	}
	return nil
}

// AppendAudit pushes result to the head of the ring and trims it in one
// MULTI/EXEC.
func (c *RedisCoordinator) AppendAudit(ctx context.Context, result *model.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("serialize audit record: %w", err)
	}

	key := c.key(auditKey)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, int64(c.cfg.AuditMaxEntries-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append audit: %w", err)
	}
	return nil
}

// RecentAudit returns up to limit records, newest first.
func (c *RedisCoordinator) RecentAudit(ctx context.Context, limit int) ([]*model.Result, error) {
	if limit <= 0 || limit > c.cfg.AuditMaxEntries {
		limit = c.cfg.AuditMaxEntries
	}

	items, err := c.client.LRange(ctx, c.key(auditKey), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read audit: %w", err)
	}

	results := make([]*model.Result, 0, len(items))
	for _, item := range items {
		var r model.Result
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("deserialize audit record: %w", err)
		}
		results = append(results, &r)
	}
	return results, nil
}

func (c *RedisCoordinator) SaveProgress(ctx context.Context, progress *repository.RunProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("serialize progress: %w", err)
	}
	if err := c.client.Set(ctx, c.key(runKeyPrefix+progress.RunID), data, c.cfg.ProgressTTL).Err(); err != nil {
		return fmt.Errorf("redis set progress: %w", err)
	}
	return nil
}

// Progress returns the stored progress of runID, or ErrRunNotFound.
func (c *RedisCoordinator) Progress(ctx context.Context, runID string) (*repository.RunProgress, error) {
	data, err := c.client.Get(ctx, c.key(runKeyPrefix+runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrRunNotFound
		}
		return nil, fmt.Errorf("redis get progress: %w", err)
	}

	var p repository.RunProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("deserialize progress: %w", err)
	}
	return &p, nil
}

func (c *RedisCoordinator) key(k string) string {
	return c.cfg.KeyPrefix + k
}
