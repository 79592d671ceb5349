package famlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Aimtara/teachmo-sub002/internal/logging"
)

// ErrLockTimeout is returned when a lock could not be taken before Wait elapsed.
var ErrLockTimeout = errors.New("family lock timeout")

// Locker serializes read-modify-write cycles per family.
type Locker interface {
	Lock(ctx context.Context, familyID string) (unlock func(), err error)
}

// #region local
// Local is an in-process keyed mutex. Entries are dropped when nobody holds or waits.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewLocal creates an empty keyed mutex.
func NewLocal() *Local {
	return &Local{locks: map[string]*entry{}}
}

// Lock blocks until the family lock is held or ctx is done.
func (l *Local) Lock(ctx context.Context, familyID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[familyID]
	if !ok {
		e = &entry{}
		l.locks[familyID] = e
	}
	e.refs++
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() { l.release(familyID, e) }, nil
	case <-ctx.Done():
		// the goroutine still takes the mutex; hand it straight back
		go func() {
			<-acquired
			l.release(familyID, e)
		}()
		return nil, fmt.Errorf("lock family %s: %w", familyID, ctx.Err())
	}
}

func (l *Local) release(familyID string, e *entry) {
	e.mu.Unlock()
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, familyID)
	}
	l.mu.Unlock()
}

// #endregion local

// #region redis
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisConfig tunes the distributed lock.
type RedisConfig struct {
	Prefix string        // key prefix (default "orch:lock:")
	TTL    time.Duration // lease length; bounds a crashed holder (default 10s)
	Wait   time.Duration // max time to wait for the lease (default 5s)
	Retry  time.Duration // poll interval while waiting (default 50ms)
	Logger *logrus.Logger // receives failed releases (default discard)
}

// Redis holds a SetNX lease per family so several engine processes can share
// one store. An in-process Local lock is taken first so a process never races itself.
type Redis struct {
	client redis.UniversalClient
	config RedisConfig
	local  *Local
}

// NewRedis wraps client. Zero config fields take defaults.
func NewRedis(client redis.UniversalClient, config RedisConfig) *Redis {
	if config.Prefix == "" {
		config.Prefix = "orch:lock:"
	}
	if config.TTL <= 0 {
		config.TTL = 10 * time.Second
	}
	if config.Wait <= 0 {
		config.Wait = 5 * time.Second
	}
	if config.Retry <= 0 {
		config.Retry = 50 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = logging.Discard()
	}
	return &Redis{client: client, config: config, local: NewLocal()}
}

// Dial parses a redis:// URL and pings the server.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Lock takes the local lock, then polls SetNX until the lease is won.
func (r *Redis) Lock(ctx context.Context, familyID string) (func(), error) {
	unlockLocal, err := r.local.Lock(ctx, familyID)
	if err != nil {
		return nil, err
	}
	key := r.config.Prefix + familyID
	token := uuid.New().String()
	deadline := time.Now().Add(r.config.Wait)

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.config.TTL).Result()
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			unlockLocal()
			return nil, fmt.Errorf("acquire lock %s: %w", key, ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(r.config.Retry):
		}
	}

	return func() {
		defer unlockLocal()
		if err := r.release(key, token); err != nil {
			r.config.Logger.WithError(err).WithField("key", key).Warn("family lock release failed; lease expires after ttl")
		}
	}, nil
}

// ErrLeaseLost is reported when the lease expired or was taken over before release.
var ErrLeaseLost = errors.New("family lock lease lost")

// release deletes the lease if token still owns it. A fresh context is used so
// a cancelled caller still frees the lease.
func (r *Redis) release(key, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("release lock %s: %w", key, ErrLeaseLost)
	}
	return nil
}

// #endregion redis
