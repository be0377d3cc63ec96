package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

type RuleRepository interface {
	ListEnabled(ctx context.Context) ([]AutomationRule, error)
}

type TaskRepository interface {
	ListOpen(ctx context.Context, workspaceID string) ([]Task, error)
	UpdatePriority(ctx context.Context, taskID, priority string) error
	UpdateStatus(ctx context.Context, taskID string, status TaskStatus) error
	UpdateTags(ctx context.Context, taskID string, tags []string) error
}

type NotificationRepository interface {
	Insert(ctx context.Context, n Notification) error
}

type PostgresRuleRepository struct {
	db *sql.DB
}

func NewRuleRepository(db *sql.DB) RuleRepository {
	return &PostgresRuleRepository{db: db}
}

func (r *PostgresRuleRepository) ListEnabled(ctx context.Context) ([]AutomationRule, error) {
	query := `
		SELECT id, workspace_id, trigger_type, trigger_config, action_type, action_config, enabled, created_at, updated_at
		FROM automation_rules
		WHERE enabled = true
		ORDER BY workspace_id, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []AutomationRule
	for rows.Next() {
		var rule AutomationRule
		var triggerConfig, actionConfig []byte
		if err := rows.Scan(
			&rule.ID,
			&rule.WorkspaceID,
			&rule.Trigger,
			&triggerConfig,
			&rule.Action,
			&actionConfig,
			&rule.Enabled,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if len(triggerConfig) > 0 {
			if err := json.Unmarshal(triggerConfig, &rule.TriggerConfig); err != nil {
				return nil, fmt.Errorf("failed to decode trigger config for rule %s: %w", rule.ID, err)
			}
		}
		if len(actionConfig) > 0 {
			if err := json.Unmarshal(actionConfig, &rule.ActionConfig); err != nil {
				return nil, fmt.Errorf("failed to decode action config for rule %s: %w", rule.ID, err)
			}
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

type PostgresTaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) TaskRepository {
	return &PostgresTaskRepository{db: db}
}

func (r *PostgresTaskRepository) ListOpen(ctx context.Context, workspaceID string) ([]Task, error) {
	query := `
		SELECT id, workspace_id, title, status, priority, assignee_id, creator_id, created_at, due_date, tags
		FROM tasks
		WHERE workspace_id = $1 AND status NOT IN ($2, $3)
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID, StatusCompleted, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var task Task
		if err := rows.Scan(
			&task.ID,
			&task.WorkspaceID,
			&task.Title,
			&task.Status,
			&task.Priority,
			&task.AssigneeID,
			&task.CreatorID,
			&task.CreatedAt,
			&task.DueDate,
			pq.Array(&task.Tags),
		); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return tasks, nil
}

func (r *PostgresTaskRepository) UpdatePriority(ctx context.Context, taskID, priority string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET priority = $1, updated_at = NOW() WHERE id = $2`,
		priority, taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task priority: %w", err)
	}
	return nil
}

func (r *PostgresTaskRepository) UpdateStatus(ctx context.Context, taskID string, status TaskStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

func (r *PostgresTaskRepository) UpdateTags(ctx context.Context, taskID string, tags []string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET tags = $1, updated_at = NOW() WHERE id = $2`,
		pq.Array(tags), taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task tags: %w", err)
	}
	return nil
}

type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

func (r *PostgresNotificationRepository) Insert(ctx context.Context, n Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, workspace_id, user_id, title, body, kind, task_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.WorkspaceID, n.UserID, n.Title, n.Body, n.Kind, n.TaskID, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}
