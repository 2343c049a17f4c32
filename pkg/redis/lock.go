package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when trying to release a lock not held
	ErrLockNotHeld = errors.New("lock not held")
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Lock represents a distributed lock
type Lock struct {
	client *Client
	key    string
	value  string
}

// Locker provides distributed locking operations
type Locker struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
}

// NewLocker creates a new Locker whose locks expire after ttl
func NewLocker(client *Client, keyPrefix string, ttl time.Duration) *Locker {
	if keyPrefix == "" {
		keyPrefix = "lock:"
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Acquire takes the lock once without waiting. ErrLockNotAcquired means
// another holder has it.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lock, error) {
	lockKey := l.keyPrefix + key
	lockValue := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, lockKey, lockValue, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", lockKey)

	return &Lock{
		client: l.client,
		key:    lockKey,
		value:  lockValue,
	}, nil
}

// Release releases the lock if it is still owned by this holder
func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}

// Lock acquires key and returns the function that releases it.
func (l *Locker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	lock, err := l.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}
