// Package redislock implements gocron's distributed locker on Redis, so
// that with several replicas only one runs each scheduled tick.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another replica holds the job lock.
var ErrLocked = errors.New("job lock held by another instance")

const keyPrefix = "starrail-api:job-lock:"

// Only the holder may release.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker acquires per-job locks with SET NX PX. TTL bounds how long a
// crashed holder can block the job.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	owner  string
}

var _ gocron.Locker = (*Locker)(nil)

// New creates a Locker. owner identifies this instance in lock values.
func New(client redis.UniversalClient, ttl time.Duration, owner string) *Locker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Locker{client: client, ttl: ttl, owner: owner}
}

// Options builds the client options from the configured addresses.
func Options(addrs []string, username, password string, db int) *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:        addrs,
		Username:     username,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Lock acquires the lock for key or returns ErrLocked.
func (l *Locker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	token := l.owner + "/" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire job lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &lock{client: l.client, key: keyPrefix + key, token: token}, nil
}

type lock struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (k *lock) Unlock(ctx context.Context) error {
	if err := unlockScript.Run(ctx, k.client, []string{k.key}, k.token).Err(); err != nil {
		return fmt.Errorf("release job lock %s: %w", k.key, err)
	}
	return nil
}
