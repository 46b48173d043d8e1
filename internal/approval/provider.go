package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	limitsVersionKey = "approvals:limits:version"
	limitsKeyPrefix  = "approvals:limits"
)

// LimitLoader reads the active role limits from the store of record.
type LimitLoader interface {
	ActiveLimits(ctx context.Context) ([]RoleLimit, error)
}

// LimitProvider serves role-limit snapshots through a versioned Redis cache.
// Redis failures degrade to a direct read.
type LimitProvider struct {
	loader    LimitLoader
	client    *redis.Client
	ttl       time.Duration
	threshold Money
	logger    *slog.Logger
	group     singleflight.Group
}

// NewLimitProvider constructs the provider. A nil client disables caching.
func NewLimitProvider(loader LimitLoader, client *redis.Client, ttl time.Duration, threshold Money, logger *slog.Logger) *LimitProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LimitProvider{loader: loader, client: client, ttl: ttl, threshold: threshold, logger: logger}
}

// Load returns the current snapshot. Concurrent misses share one load.
func (p *LimitProvider) Load(ctx context.Context) (*LimitTable, error) {
	ch := p.group.DoChan(limitsKeyPrefix, func() (interface{}, error) {
		return p.load(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*LimitTable), nil
	}
}

func (p *LimitProvider) load(ctx context.Context) (*LimitTable, error) {
	if p.client == nil {
		return p.loadDirect(ctx)
	}
	key, err := p.key(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "limits cache unavailable", slog.Any("error", err))
		return p.loadDirect(ctx)
	}
	payload, err := p.client.Get(ctx, key).Bytes()
	if err == nil {
		var limits []RoleLimit
		if err := json.Unmarshal(payload, &limits); err == nil {
			return NewLimitTable(limits, p.threshold), nil
		}
		p.logger.WarnContext(ctx, "discarding corrupt limits cache entry", slog.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		p.logger.WarnContext(ctx, "limits cache read failed", slog.Any("error", err))
		return p.loadDirect(ctx)
	}

	table, err := p.loadDirect(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(table.Limits())
	if err != nil {
		return nil, err
	}
	if err := p.client.Set(ctx, key, raw, p.ttl).Err(); err != nil {
		p.logger.WarnContext(ctx, "limits cache write failed", slog.Any("error", err))
	}
	return table, nil
}

func (p *LimitProvider) loadDirect(ctx context.Context) (*LimitTable, error) {
	limits, err := p.loader.ActiveLimits(ctx)
	if err != nil {
		return nil, err
	}
	table := NewLimitTable(limits, p.threshold)
	if !table.Empty() {
		if err := table.Validate(); err != nil {
			p.logger.WarnContext(ctx, "role limits misconfigured", slog.Any("error", err))
		}
	}
	return table, nil
}

func (p *LimitProvider) key(ctx context.Context) (string, error) {
	ver, err := p.client.Get(ctx, limitsVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := p.client.SetNX(ctx, limitsVersionKey, 1, 0).Err(); err != nil {
			return "", err
		}
		ver = 1
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", limitsKeyPrefix, ver), nil
}

// Invalidate bumps the cache version so the next Load reads the database.
func (p *LimitProvider) Invalidate(ctx context.Context) error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Incr(ctx, limitsVersionKey).Err()
}

// StaticLimits serves a fixed table.
type StaticLimits struct {
	Table *LimitTable
}

// Load implements LimitSource.
func (s StaticLimits) Load(context.Context) (*LimitTable, error) {
	return s.Table, nil
}
