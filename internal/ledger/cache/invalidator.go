package cache

import (
	"context"
	"time"

	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/pkg/logger"
)

var _ domain.CacheInvalidator = (*Invalidator)(nil)

// Invalidator gives the write path a non-failing invalidation call. The first
// attempt happens inline; on failure the key is queued and retried in the
// background until it goes through. A stale entry for a bounded window is
// acceptable, a failed write is not, so errors never propagate to the caller.
// At-least-once: a key may be invalidated twice, which is harmless.
type Invalidator struct {
	cache      domain.QuantityCache
	pending    chan string
	retryDelay time.Duration
}

func NewInvalidator(cache domain.QuantityCache) *Invalidator {
	return &Invalidator{
		cache:      cache,
		pending:    make(chan string, 1024),
		retryDelay: 250 * time.Millisecond,
	}
}

func (i *Invalidator) Invalidate(ctx context.Context, key string) {
	if err := i.cache.Invalidate(ctx, key); err == nil {
		return
	} else {
		logger.Logger.Warn().
			Err(err).
			Str("cache_key", key).
			Msg("Cache invalidation failed, queueing retry")
	}

	select {
	case i.pending <- key:
	default:
		// Queue full: drop with a loud log rather than block the write path.
		logger.Logger.Error().
			Str("cache_key", key).
			Msg("Invalidation retry queue full, entry may stay stale")
	}
}

// Start runs the retry worker until ctx is cancelled.
func (i *Invalidator) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case key := <-i.pending:
				i.retry(ctx, key)
			}
		}
	}()
}

func (i *Invalidator) retry(ctx context.Context, key string) {
	delay := i.retryDelay
	for {
		if err := i.cache.Invalidate(ctx, key); err == nil {
			logger.Logger.Debug().
				Str("cache_key", key).
				Msg("Queued cache invalidation succeeded")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay < 5*time.Second {
			delay *= 2
		}
	}
}
