package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"crmbridge/internal/domain"
	"crmbridge/internal/metrics"
	"crmbridge/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// FallbackQueue layers coalescing and completion semantics over the pending
// store. It is the store's only writer: the coordinator and scheduler talk
// to the queue, never to pending records directly.
type FallbackQueue struct {
	store         domain.PendingStore
	redis         *redis.Client
	logger        *zerolog.Logger
	maxAttempts   int
	deadLetterKey string
}

func NewFallbackQueue(store domain.PendingStore, redisClient *redis.Client, maxAttempts int, logger *zerolog.Logger) *FallbackQueue {
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	return &FallbackQueue{
		store:         store,
		redis:         redisClient,
		logger:        logger,
		maxAttempts:   maxAttempts,
		deadLetterKey: models.DeadLetterKey,
	}
}

// Upsert records a deferred sync intent. A later intent for the same entity
// replaces the earlier one's action; earlier intents are never executed.
func (q *FallbackQueue) Upsert(ctx context.Context, entityID, entityType, action string) (*models.PendingEntity, error) {
	if entityID == "" {
		return nil, fmt.Errorf("entity id is required")
	}
	if !models.ValidEntityType(entityType) {
		return nil, fmt.Errorf("unknown entity type: %s", entityType)
	}
	if !models.ValidAction(action) {
		return nil, fmt.Errorf("unknown action: %s", action)
	}

	pending, err := q.store.UpsertPending(ctx, entityID, entityType, action)
	if err != nil {
		return nil, fmt.Errorf("upsert pending intent: %w", err)
	}

	metrics.IncSync(entityType, action, metrics.OutcomeDeferred)
	q.logger.Debug().
		Str("entity_id", entityID).
		Str("entity_type", entityType).
		Str("action", action).
		Msg("deferred sync intent recorded")

	q.refreshDepth(ctx)
	return pending, nil
}

// FetchBatch returns up to limit active records, longest-untouched first.
func (q *FallbackQueue) FetchBatch(ctx context.Context, limit int) ([]models.PendingEntity, error) {
	if limit <= 0 {
		limit = models.DefaultDrainBatchSize
	}
	return q.store.FetchActive(ctx, limit, true)
}

// Complete records the outcome of one drained batch: succeeded ids become
// done, failed ids get an attempt with their own cause recorded and stay
// active until they cross the stuck threshold.
func (q *FallbackQueue) Complete(ctx context.Context, succeededIDs []string, failures map[string]string) error {
	if _, err := q.store.MarkDone(ctx, succeededIDs); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	if _, err := q.store.IncrementAttempts(ctx, failures); err != nil {
		return fmt.Errorf("record failed attempts: %w", err)
	}

	stuck, err := q.store.MarkStuckOverThreshold(ctx, q.maxAttempts)
	if err != nil {
		return fmt.Errorf("mark stuck: %w", err)
	}
	if len(stuck) > 0 {
		metrics.AddStuck(len(stuck))
		for i := range stuck {
			q.logger.Error().
				Str("id", stuck[i].ID).
				Str("entity_id", stuck[i].EntityID).
				Str("entity_type", stuck[i].EntityType).
				Str("action", stuck[i].Action).
				Int("attempts", stuck[i].Attempts).
				Msg("pending record stuck, manual intervention required")
			q.pushDeadLetter(ctx, &stuck[i])
		}
	}

	q.refreshDepth(ctx)
	return nil
}

// Depth returns the number of active pending records.
func (q *FallbackQueue) Depth(ctx context.Context) (int, error) {
	return q.store.CountActive(ctx)
}

// Stuck returns records in the terminal stuck state.
func (q *FallbackQueue) Stuck(ctx context.Context) ([]models.PendingEntity, error) {
	return q.store.ListStuck(ctx)
}

func (q *FallbackQueue) pushDeadLetter(ctx context.Context, pending *models.PendingEntity) {
	if q.redis == nil {
		return
	}
	data, err := json.Marshal(pending)
	if err != nil {
		q.logger.Error().Err(err).Str("id", pending.ID).Msg("encode deadletter record")
		return
	}
	if err := q.redis.LPush(ctx, q.deadLetterKey, data).Err(); err != nil {
		q.logger.Error().Err(err).Str("id", pending.ID).Msg("deadletter push failed")
	}
}

func (q *FallbackQueue) refreshDepth(ctx context.Context) {
	depth, err := q.store.CountActive(ctx)
	if err != nil {
		q.logger.Error().Err(err).Msg("count active pending records")
		return
	}
	metrics.SetQueueDepth(depth)
}
