package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/obsidianstack/sentinel/internal/window"
)

// ErrNotFound is returned when the ledger holds no action for an alert ID.
var ErrNotFound = errors.New("action not found")

// Ledger remembers the action created for each alert ID for a bounded time.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// Claim stores a under alertID for ttl unless an action is already held
	// for it. It returns the held action and false in that case.
	Claim(ctx context.Context, alertID string, a Action, ttl time.Duration) (Action, bool, error)

	// Update replaces the stored action for a.SourceAlertID, keeping its expiry.
	Update(ctx context.Context, a Action) error

	Get(ctx context.Context, alertID string) (Action, error)
}

// MemoryLedger is an in-process Ledger. Entries vanish on restart.
type MemoryLedger struct {
	w   *window.Window[Action]
	now func() time.Time
}

// NewMemoryLedger creates a MemoryLedger. now may be nil.
func NewMemoryLedger(ttl time.Duration, now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{w: window.New[Action]("idempotency", ttl), now: now}
}

func (m *MemoryLedger) Claim(_ context.Context, alertID string, a Action, ttl time.Duration) (Action, bool, error) {
	held, ok := m.w.Claim(alertID, a.Clone(), m.now(), ttl)
	return held.Clone(), ok, nil
}

func (m *MemoryLedger) Update(_ context.Context, a Action) error {
	if !m.w.Update(a.SourceAlertID, a.Clone()) {
		return fmt.Errorf("update %s: %w", a.SourceAlertID, ErrNotFound)
	}
	return nil
}

func (m *MemoryLedger) Get(_ context.Context, alertID string) (Action, error) {
	a, ok := m.w.Get(alertID, m.now())
	if !ok {
		return Action{}, ErrNotFound
	}
	return a.Clone(), nil
}

// Run evicts expired entries until ctx is cancelled.
func (m *MemoryLedger) Run(ctx context.Context) { m.w.Run(ctx) }

// RedisLedger keeps actions in Redis so idempotency survives a daemon
// restart. Keys expire with the idempotency window.
type RedisLedger struct {
	client redis.Cmdable
	prefix string
}

// NewRedisLedger creates a RedisLedger storing keys as prefix+alertID.
func NewRedisLedger(client redis.Cmdable, prefix string) *RedisLedger {
	return &RedisLedger{client: client, prefix: prefix}
}

func (r *RedisLedger) key(alertID string) string { return r.prefix + alertID }

func (r *RedisLedger) Claim(ctx context.Context, alertID string, a Action, ttl time.Duration) (Action, bool, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return Action{}, false, fmt.Errorf("encode action: %w", err)
	}
	// The held key can expire between SETNX and GET; one retry covers it.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := r.client.SetNX(ctx, r.key(alertID), data, ttl).Result()
		if err != nil {
			return Action{}, false, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return a, true, nil
		}
		held, err := r.Get(ctx, alertID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Action{}, false, err
		}
		return held, false, nil
	}
	return Action{}, false, fmt.Errorf("claim %s: key churned twice", alertID)
}

func (r *RedisLedger) Update(ctx context.Context, a Action) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	err = r.client.SetArgs(ctx, r.key(a.SourceAlertID), data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("update %s: %w", a.SourceAlertID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisLedger) Get(ctx context.Context, alertID string) (Action, error) {
	data, err := r.client.Get(ctx, r.key(alertID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Action{}, ErrNotFound
	}
	if err != nil {
		return Action{}, fmt.Errorf("redis get: %w", err)
	}
	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		return Action{}, fmt.Errorf("decode action: %w", err)
	}
	return a, nil
}
