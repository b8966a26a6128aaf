package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	defaultLockTTL   = 2 * time.Minute
	releaseTimeout   = 5 * time.Second
	redisKeyTemplate = "lock:%s"
)

// releaseScript deletes the lock only when it still carries the holder's token.
// KEYS[1] = lock key
// ARGV[1] = holder token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock set shared by every scheduler process pointed at the same Redis.
// Each lock expires after its TTL so a crashed holder cannot block a rule forever.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps client. A non-positive ttl uses the default.
func NewRedis(client *redis.Client, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("lock: nil redis client")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("lock: redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if errPing := client.Ping(ctx).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lock: redis ping %s: %w", addr, errPing)
	}
	return client, nil
}

// TryLock sets the key with NX and the lock TTL. It never waits for a busy key.
func (r *Redis) TryLock(ctx context.Context, key string) (func(), bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errEmptyKey
	}
	redisKey := redisKeyFor(key)
	token := uuid.NewString()

	acquired, errSet := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if errSet != nil {
		return nil, false, fmt.Errorf("lock: redis set %s: %w", redisKey, errSet)
	}
	if !acquired {
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			if errRelease := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); errRelease != nil {
				log.WithError(errRelease).Warnf("lock: redis release failed (key=%s)", redisKey)
			}
		})
	}
	return release, true, nil
}

func redisKeyFor(key string) string {
	return fmt.Sprintf(redisKeyTemplate, key)
}
