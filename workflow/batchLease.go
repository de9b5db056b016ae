package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// BatchLocker hands out short leases that keep two instances off the same batch.
type BatchLocker interface {
	Obtain(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

const leaseRetryStep = 100 * time.Millisecond

// RedisBatchLocker leases batches through redislock and refreshes the lease
// until released so long runs do not lose it.
type RedisBatchLocker struct {
	Client *redislock.Client
	Logger *logrus.Logger
}

func NewRedisBatchLocker(client *redislock.Client, logger *logrus.Logger) *RedisBatchLocker {
	return &RedisBatchLocker{Client: client, Logger: logger}
}

func (l *RedisBatchLocker) Obtain(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	retries := int(wait / leaseRetryStep)
	lock, err := l.Client.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(leaseRetryStep), retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrBatchBusy
	}
	if err != nil {
		return nil, err
	}
	lease := &redisLease{lock: lock, ttl: ttl, done: make(chan struct{})}
	go lease.keepAlive(l.Logger)
	return lease, nil
}

type redisLease struct {
	lock *redislock.Lock
	ttl  time.Duration
	done chan struct{}
	once sync.Once
}

func (r *redisLease) keepAlive(logger *logrus.Logger) {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.lock.Refresh(context.Background(), r.ttl, nil); err != nil {
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"field": "RedisBatchLocker",
						"key":   r.lock.Key(),
					}).Warn("lease refresh failed: " + err.Error())
				}
				return
			}
		}
	}
}

func (r *redisLease) Release(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		close(r.done)
		err = r.lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			err = nil
		}
	})
	return err
}
