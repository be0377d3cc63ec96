package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pulse/internal/config"
	"pulse/internal/constants"
	"pulse/internal/logger"
	"pulse/pkg/errors"
)

// ClaimLock guards a scheduled broadcast while one instance dispatches it.
type ClaimLock interface {
	Acquire(ctx context.Context, broadcastID string) (bool, error)
	Release(ctx context.Context, broadcastID string) error
}

type RedisClaimLock struct {
	client *redis.Client
}

func NewRedisClaimLock(client *redis.Client) *RedisClaimLock {
	return &RedisClaimLock{client: client}
}

func (l *RedisClaimLock) Acquire(ctx context.Context, broadcastID string) (bool, error) {
	key := constants.BroadcastClaimKeyPrefix + broadcastID
	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), constants.BroadcastClaimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire broadcast claim: %w", err)
	}
	return ok, nil
}

func (l *RedisClaimLock) Release(ctx context.Context, broadcastID string) error {
	if err := l.client.Del(ctx, constants.BroadcastClaimKeyPrefix+broadcastID).Err(); err != nil {
		return fmt.Errorf("failed to release broadcast claim: %w", err)
	}
	return nil
}

// NopClaimLock always grants the claim. Single-instance deployments without
// redis fall back to this; the MarkSent update still keeps re-dispatch out of
// later claim passes.
type NopClaimLock struct{}

func (NopClaimLock) Acquire(context.Context, string) (bool, error) { return true, nil }
func (NopClaimLock) Release(context.Context, string) error         { return nil }

// Scheduler drains due scheduled broadcasts. Each claim pass picks up at most
// one batch; anything left over waits for the next pass.
type Scheduler struct {
	broadcasts BroadcastRepository
	dispatcher *Dispatcher
	lock       ClaimLock
	cfg        config.BroadcastConfig
	logger     logger.Logger
}

func NewScheduler(broadcasts BroadcastRepository, dispatcher *Dispatcher, lock ClaimLock, cfg config.BroadcastConfig, lg logger.Logger) *Scheduler {
	if lock == nil {
		lock = NopClaimLock{}
	}
	return &Scheduler{
		broadcasts: broadcasts,
		dispatcher: dispatcher,
		lock:       lock,
		cfg:        cfg,
		logger:     lg,
	}
}

// RunDue claims and dispatches every broadcast whose schedule has passed.
// Transient failures leave the row unsent so the next pass retries once the
// claim expires; failures no retry can cure park the row as failed.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	due, err := s.broadcasts.DueScheduled(ctx, time.Now().UTC(), s.cfg.ClaimBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load due broadcasts: %w", err)
	}

	dispatched := 0
	for _, b := range due {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}

		claimed, err := s.lock.Acquire(ctx, b.ID)
		if err != nil {
			s.logger.ErrorwCtx(ctx, "Broadcast claim failed", "broadcast_id", b.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		if _, err := s.dispatcher.DispatchScheduled(ctx, b); err != nil {
			s.logger.ErrorwCtx(ctx, "Scheduled broadcast dispatch failed",
				"broadcast_id", b.ID,
				"workspace_id", b.WorkspaceID,
				"error", err,
			)
			if errors.IsNotFound(err) || errors.IsValidation(err) {
				// No retry can cure this; park the row so later passes
				// stop re-claiming it.
				if markErr := s.broadcasts.MarkFailed(ctx, b.ID, time.Now().UTC(), err.Error()); markErr != nil {
					s.logger.ErrorwCtx(ctx, "Failed to mark broadcast failed", "broadcast_id", b.ID, "error", markErr)
				}
				continue
			}
			if releaseErr := s.lock.Release(ctx, b.ID); releaseErr != nil {
				s.logger.WarnwCtx(ctx, "Failed to release broadcast claim", "broadcast_id", b.ID, "error", releaseErr)
			}
			continue
		}
		dispatched++
	}

	if len(due) > 0 {
		s.logger.InfowCtx(ctx, "Claim pass completed", "due", len(due), "dispatched", dispatched)
	}
	return dispatched, nil
}
