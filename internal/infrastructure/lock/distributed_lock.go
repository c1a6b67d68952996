package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrLockFailed = errors.New("failed to acquire distributed lock")

// DistributedLock is a redis SET NX lock with an expiry so a crashed
// holder cannot deadlock the job. The value identifies the holder; release
// checks it through a Lua script so one instance can never delete a lock
// another instance has since acquired.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock acquires the lock, retrying up to maxRetries.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock if this instance still holds it. Check and
// delete run atomically in Lua.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// JobLock serialises named batch jobs (sweep, expunge) across connector
// instances so a batch never runs twice concurrently.
type JobLock struct {
	client *redis.Client
}

func NewJobLock(client *redis.Client) *JobLock {
	return &JobLock{client: client}
}

func (j *JobLock) TryLock(ctx context.Context, job string, ttl time.Duration) (func(), bool) {
	l := NewDistributedLock(j.client, fmt.Sprintf("connector:job:%s", job), uuid.NewString(), ttl)
	ok, err := l.TryLock(ctx)
	if err != nil || !ok {
		return nil, false
	}
	return func() {
		_ = l.Unlock(context.Background())
	}, true
}
