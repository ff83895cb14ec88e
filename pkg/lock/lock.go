// Package lock implements named, TTL-bound distributed locks on Redis.
//
// A lock is a single key holding the holder token and creation time. Acquisition is SET NX with an
// expiry, release is an atomic compare-and-delete on the holder token, so a caller can never remove a
// lock that expired and was re-acquired by somebody else.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-webinar/recordings/pkg/clock"
)

var (
	// ErrAlreadyLocked is returned by Acquire when a non-expired lock with the same name exists.
	ErrAlreadyLocked = errors.New("lock: already locked")
	// ErrLockMismatch is returned by Release when the lock is held by a different holder.
	ErrLockMismatch = errors.New("lock: held by another holder")
)

const scanCount = 100

// releaseScript deletes KEYS[1] only if its holder equals ARGV[1].
// Returns 1 when deleted, 0 when the key is gone, -1 on holder mismatch.
var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	return 0
end
local ok, rec = pcall(cjson.decode, v)
if ok and type(rec) == 'table' and rec['holder'] == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return -1
`)

// Lock is a held (or observed) lock.
type Lock struct {
	Name      string        `json:"-"`
	Holder    string        `json:"holder"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// Age returns how long the lock has existed at now.
func (l Lock) Age(now time.Time) time.Duration {
	return now.Sub(l.CreatedAt)
}

// Manager acquires and releases locks against a shared Redis.
type Manager struct {
	client redis.UniversalClient
	clock  clock.Clock
	logger *zap.Logger
}

// NewManager creates a lock manager. A nil clock uses the real clock.
func NewManager(client redis.UniversalClient, clk clock.Clock, logger *zap.Logger) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{client: client, clock: clk, logger: logger}
}

// Acquire takes the named lock with a fresh holder token.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	return m.AcquireAs(ctx, name, uuid.NewString(), ttl)
}

// AcquireAs takes the named lock for the given holder token. It never waits: if the lock is held it
// fails immediately with ErrAlreadyLocked.
func (m *Manager) AcquireAs(ctx context.Context, name, holder string, ttl time.Duration) (*Lock, error) {
	if name == "" || holder == "" {
		return nil, fmt.Errorf("lock: name and holder required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lock: ttl must be positive")
	}
	l := &Lock{Name: name, Holder: holder, CreatedAt: m.clock.Now(), TTL: ttl}
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("lock: marshal: %w", err)
	}
	ok, err := m.client.SetNX(ctx, name, raw, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrAlreadyLocked
	}
	m.logger.Debug("lock acquired", zap.String("lock", name), zap.String("holder", holder), zap.Duration("ttl", ttl))
	return l, nil
}

// Release removes the lock if it is still held by l.Holder. Releasing a lock that already expired or was
// removed is a no-op.
func (m *Manager) Release(ctx context.Context, l *Lock) error {
	if l == nil {
		return nil
	}
	res, err := releaseScript.Run(ctx, m.client, []string{l.Name}, l.Holder).Int64()
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", l.Name, err)
	}
	switch res {
	case -1:
		return ErrLockMismatch
	case 0:
		m.logger.Debug("lock already gone", zap.String("lock", l.Name))
	default:
		m.logger.Debug("lock released", zap.String("lock", l.Name), zap.String("holder", l.Holder))
	}
	return nil
}

// LockExists reports whether a non-expired lock with the name exists.
func (m *Manager) LockExists(ctx context.Context, name string) (bool, error) {
	n, err := m.client.Exists(ctx, name).Result()
	if err != nil {
		return false, fmt.Errorf("lock: exists %s: %w", name, err)
	}
	return n > 0, nil
}

// GetLock returns the current lock record, or nil if none is held.
func (m *Manager) GetLock(ctx context.Context, name string) (*Lock, error) {
	raw, err := m.client.Get(ctx, name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock: get %s: %w", name, err)
	}
	var l Lock
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("lock: decode %s: %w", name, err)
	}
	l.Name = name
	return &l, nil
}

// GetLockCreatedAt returns when the lock was created; ok is false if no lock is held.
func (m *Manager) GetLockCreatedAt(ctx context.Context, name string) (createdAt time.Time, ok bool, err error) {
	l, err := m.GetLock(ctx, name)
	if err != nil || l == nil {
		return time.Time{}, false, err
	}
	return l.CreatedAt, true, nil
}

// GetLocksByPrefix enumerates every lock whose name starts with prefix.
func (m *Manager) GetLocksByPrefix(ctx context.Context, prefix string) ([]Lock, error) {
	var (
		cursor uint64
		out    []Lock
	)
	pattern := escapePattern(prefix) + "*"
	for {
		keys, next, err := m.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: scan %s: %w", prefix, err)
		}
		for _, key := range keys {
			l, err := m.GetLock(ctx, key)
			if err != nil {
				return nil, err
			}
			if l == nil {
				// expired between scan and get
				continue
			}
			out = append(out, *l)
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func escapePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
