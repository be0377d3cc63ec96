package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pulse/internal/constants"
)

type ExecutionLog interface {
	LastFiredAt(ctx context.Context, ruleID, taskID string) (time.Time, bool, error)
	Append(ctx context.Context, entry ExecutionLogEntry) error
}

type PostgresExecutionLog struct {
	db *sql.DB
}

func NewExecutionLog(db *sql.DB) ExecutionLog {
	return &PostgresExecutionLog{db: db}
}

func (r *PostgresExecutionLog) LastFiredAt(ctx context.Context, ruleID, taskID string) (time.Time, bool, error) {
	var firedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT fired_at FROM automation_executions
		WHERE rule_id = $1 AND task_id = $2 AND success = true
		ORDER BY fired_at DESC
		LIMIT 1
	`, ruleID, taskID).Scan(&firedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query execution log: %w", err)
	}
	return firedAt, true, nil
}

func (r *PostgresExecutionLog) Append(ctx context.Context, entry ExecutionLogEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_executions (rule_id, task_id, fired_at, action, success, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.RuleID, entry.TaskID, entry.FiredAt, entry.Action, entry.Success, entry.Reason)
	if err != nil {
		return fmt.Errorf("failed to append execution log entry: %w", err)
	}
	return nil
}

// DedupClaimer makes the dedup check-then-act atomic. A claim is taken before the
// action executes and expires with the rule's dedup window; concurrent sweeps
// racing on the same (rule, task) pair see exactly one winning claim.
type DedupClaimer interface {
	Claim(ctx context.Context, ruleID, taskID string, window time.Duration) (bool, error)
	Release(ctx context.Context, ruleID, taskID string) error
}

type RedisDedupClaimer struct {
	client *redis.Client
}

func NewRedisDedupClaimer(client *redis.Client) *RedisDedupClaimer {
	return &RedisDedupClaimer{client: client}
}

func (c *RedisDedupClaimer) Claim(ctx context.Context, ruleID, taskID string, window time.Duration) (bool, error) {
	key := claimKey(ruleID, taskID)
	acquired, err := c.client.SetNX(ctx, key, time.Now().Unix(), window).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim failed: %w", err)
	}
	return acquired, nil
}

// Release drops the claim so the next sweep can retry a firing whose action
// failed. Without this a failed action would stay suppressed for the full window.
func (c *RedisDedupClaimer) Release(ctx context.Context, ruleID, taskID string) error {
	if err := c.client.Del(ctx, claimKey(ruleID, taskID)).Err(); err != nil {
		return fmt.Errorf("redis claim release failed: %w", err)
	}
	return nil
}

func claimKey(ruleID, taskID string) string {
	return constants.DedupClaimKeyPrefix + ruleID + ":" + taskID
}

// NopClaimer is used when redis is not configured; dedup then rests solely on
// the execution-log lookup, which is correct for a single sweep instance.
type NopClaimer struct{}

func (NopClaimer) Claim(ctx context.Context, ruleID, taskID string, window time.Duration) (bool, error) {
	return true, nil
}

func (NopClaimer) Release(ctx context.Context, ruleID, taskID string) error {
	return nil
}
