package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"crmbridge/internal/config"
	"crmbridge/internal/domain"
	"crmbridge/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Scheduler runs the periodic jobs: a CRM liveness check, the fallback
// queue drain, and a coarse full resync. Jobs are independent and stateless
// between ticks; an atomic flag per job skips a tick when the previous run
// is still going.
type Scheduler struct {
	coordinator domain.Coordinator
	queue       domain.FallbackQueue
	resyncers   []domain.Resyncer
	limiter     *rate.Limiter
	cfg         config.SyncConfig
	logger      *zerolog.Logger

	healthRunning atomic.Bool
	drainRunning  atomic.Bool
	resyncRunning atomic.Bool
}

func NewScheduler(coordinator domain.Coordinator, queue domain.FallbackQueue, resyncers []domain.Resyncer, cfg config.SyncConfig, logger *zerolog.Logger) *Scheduler {
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 5
	}

	return &Scheduler{
		coordinator: coordinator,
		queue:       queue,
		resyncers:   resyncers,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		cfg:         cfg,
		logger:      logger,
	}
}

// Start launches the job loops; they stop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Dur("health_interval", s.cfg.HealthInterval).
		Dur("drain_interval", s.cfg.DrainInterval).
		Dur("full_resync_interval", s.cfg.FullResyncInterval).
		Msg("scheduler started")

	go s.runLoop(ctx, s.cfg.HealthInterval, s.HealthCheckNow)
	go s.runLoop(ctx, s.cfg.DrainInterval, s.DrainNow)
	go s.runLoop(ctx, s.cfg.FullResyncInterval, s.FullResyncNow)
}

func (s *Scheduler) runLoop(ctx context.Context, interval time.Duration, job func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// HealthCheckNow probes the CRM once and records the observation.
func (s *Scheduler) HealthCheckNow(ctx context.Context) {
	if !s.healthRunning.CompareAndSwap(false, true) {
		return
	}
	defer s.healthRunning.Store(false)

	alive := s.coordinator.Probe(ctx)
	metrics.SetCrmUp(alive)
	if !alive {
		s.logger.Warn().Msg("crm liveness probe failed")
		return
	}
	s.logger.Debug().Msg("crm alive")
}

// DrainNow drains the entire current backlog in bounded batches. Items are
// replayed sequentially to bound load on the CRM and keep per-item error
// attribution simple.
func (s *Scheduler) DrainNow(ctx context.Context) {
	if !s.drainRunning.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("drain already running, skipping tick")
		return
	}
	defer s.drainRunning.Store(false)

	if !s.coordinator.Probe(ctx) {
		s.logger.Debug().Msg("crm down, skipping drain")
		return
	}

	start := time.Now()
	var processed, drained int

	// Failed items stay active with an unchanged updated_at and come back at
	// the front of every re-fetch. Each record gets at most one attempt per
	// tick; retrying again is the next tick's job.
	failedThisTick := make(map[string]bool)

	for {
		batch, err := s.queue.FetchBatch(ctx, s.cfg.BatchSize)
		if err != nil {
			s.logger.Error().Err(err).Msg("fetch pending batch")
			return
		}
		if len(batch) == 0 {
			break
		}

		var succeeded []string
		failures := make(map[string]string)
		for i := range batch {
			item := batch[i]
			if failedThisTick[item.ID] {
				continue
			}

			if err := s.limiter.Wait(ctx); err != nil {
				return
			}

			if err := s.coordinator.Resync(ctx, item); err != nil {
				failedThisTick[item.ID] = true
				failures[item.ID] = err.Error()
				s.logger.Error().Err(err).
					Str("id", item.ID).
					Str("entity_id", item.EntityID).
					Str("entity_type", item.EntityType).
					Str("action", item.Action).
					Int("attempts", item.Attempts).
					Msg("resync failed, record stays active")
				continue
			}
			succeeded = append(succeeded, item.ID)
		}

		// Only already-failed records left in the fetch window.
		if len(succeeded) == 0 && len(failures) == 0 {
			break
		}

		if err := s.queue.Complete(ctx, succeeded, failures); err != nil {
			s.logger.Error().Err(err).Msg("record batch outcome")
			return
		}

		processed += len(succeeded) + len(failures)
		drained += len(succeeded)
	}

	if processed > 0 {
		s.logger.Info().
			Int("processed", processed).
			Int("drained", drained).
			Dur("elapsed", time.Since(start)).
			Msg("drain tick finished")
	}
}

// FullResyncNow runs the bulk resync path per domain. It shares the
// coordinator's sync primitives through the registered resyncers.
func (s *Scheduler) FullResyncNow(ctx context.Context) {
	if !s.resyncRunning.CompareAndSwap(false, true) {
		return
	}
	defer s.resyncRunning.Store(false)

	if !s.coordinator.Probe(ctx) {
		s.logger.Debug().Msg("crm down, skipping full resync")
		return
	}

	for _, r := range s.resyncers {
		if err := r.ResyncAll(ctx); err != nil {
			s.logger.Error().Err(err).Msg("full resync pass failed")
		}
	}
}
