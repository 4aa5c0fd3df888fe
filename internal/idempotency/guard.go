package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paperwell/metering/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// DefaultBucket groups retried requests: one charge per
	// account/operation/minute.
	DefaultBucket = time.Minute
	// DefaultRetention bounds how long markers are kept.
	DefaultRetention = 10 * time.Minute

	sweepInterval = 5 * time.Minute
)

// Module provides the guard and starts its periodic sweep.
var Module = fx.Module("idempotency",
	fx.Provide(NewGuard),
	fx.Invoke(runSweep),
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
}

// Guard is the in-process duplicate-charge cache. Markers are keyed by
// account, operation and minute bucket and expire after the retention
// window.
type Guard struct {
	log       *zap.Logger
	clock     clock.Clock
	retention time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewGuard(p Params) *Guard {
	return &Guard{
		log:       p.Log.Named("idempotency.guard"),
		clock:     p.Clock,
		retention: DefaultRetention,
		seen:      make(map[string]time.Time),
	}
}

// Key builds the dedup key for a charge attempt at instant at.
func Key(accountID, operation string, at time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	return fmt.Sprintf("%s:%s:%d", accountID, operation, at.UTC().Truncate(bucket).Unix())
}

// Mark records key and reports whether it was absent. The check and insert
// are one critical section, so concurrent callers race for a single true.
func (g *Guard) Mark(key string) bool {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if at, ok := g.seen[key]; ok && now.Sub(at) < g.retention {
		return false
	}
	g.seen[key] = now
	return true
}

// Clear removes a marker so a failed attempt can be retried immediately.
func (g *Guard) Clear(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
}

// Sweep drops markers older than the retention window and returns how many
// were removed.
func (g *Guard) Sweep() int {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, at := range g.seen {
		if now.Sub(at) >= g.retention {
			delete(g.seen, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live markers.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func runSweep(lc fx.Lifecycle, g *Guard) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(sweepInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if removed := g.Sweep(); removed > 0 {
							g.log.Debug("swept charge markers", zap.Int("removed", removed))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
