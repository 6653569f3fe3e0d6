package scheduler

import (
	"context"
	"time"

	"github.com/smartpop/popup-analytics/internal/service"
	"github.com/smartpop/popup-analytics/pkg/cache"
)

// 작업 이름
const (
	TaskCacheCleanup = "cache-cleanup"
	TaskHourlyRollup = "hourly-rollup"
)

// RegisterPipelineTasks wires the cache sweep and the periodic rollup.
// A nil store or aggregation skips the corresponding task.
func RegisterPipelineTasks(s *Scheduler, store *cache.Store, aggregation service.AggregationService, cleanupEvery, rollupEvery time.Duration) {
	if store != nil && cleanupEvery > 0 {
		s.Register("cache", TaskCacheCleanup, cleanupEvery, 0, func(ctx context.Context) error {
			if n := store.Cleanup(ctx); n > 0 {
				s.log.Debug().Int("removed", n).Msg("expired cache entries removed")
			}
			return nil
		})
	}
	if aggregation != nil && rollupEvery > 0 {
		s.Register("aggregation", TaskHourlyRollup, rollupEvery, 0, aggregation.RunPeriodic)
	}
}
