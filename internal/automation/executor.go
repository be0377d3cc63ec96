package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pulse/internal/logger"
)

// Executor performs a rule's configured action against a task and records the
// firing in the execution log. The log entry is written only after the action
// succeeded: a false "already fired" written on failure would suppress the retry
// the next sweep is supposed to make.
type Executor struct {
	tasks         TaskRepository
	notifications NotificationRepository
	log           ExecutionLog
	logger        logger.Logger
}

func NewExecutor(tasks TaskRepository, notifications NotificationRepository, log ExecutionLog, lg logger.Logger) *Executor {
	return &Executor{
		tasks:         tasks,
		notifications: notifications,
		log:           log,
		logger:        lg,
	}
}

func (x *Executor) Execute(ctx context.Context, rule AutomationRule, task Task, reason string) (string, error) {
	var (
		description string
		err         error
	)

	switch rule.Action {
	case ActionSendNotification:
		description, err = x.sendNotification(ctx, rule, task, reason)
	case ActionUpdatePriority:
		description, err = x.updatePriority(ctx, rule, task)
	case ActionChangeStatus:
		description, err = x.changeStatus(ctx, rule, task)
	case ActionAddTag:
		description, err = x.addTag(ctx, rule, task)
	default:
		return "", fmt.Errorf("unknown action type %q", rule.Action)
	}

	if err != nil {
		return "", err
	}

	entry := ExecutionLogEntry{
		RuleID:  rule.ID,
		TaskID:  task.ID,
		FiredAt: time.Now().UTC(),
		Action:  description,
		Success: true,
		Reason:  reason,
	}
	if err := x.log.Append(ctx, entry); err != nil {
		return "", fmt.Errorf("action succeeded but log append failed: %w", err)
	}

	return description, nil
}

func (x *Executor) sendNotification(ctx context.Context, rule AutomationRule, task Task, reason string) (string, error) {
	recipients := x.recipients(rule, task)
	if len(recipients) == 0 {
		return "No recipients to notify", nil
	}

	inserted := 0
	for _, userID := range recipients {
		n := Notification{
			ID:          uuid.NewString(),
			WorkspaceID: task.WorkspaceID,
			UserID:      userID,
			Title:       fmt.Sprintf("Automation: %s", task.Title),
			Body:        reason,
			Kind:        NotificationKindAutomation,
			TaskID:      &task.ID,
			CreatedAt:   time.Now().UTC(),
		}
		if err := x.notifications.Insert(ctx, n); err != nil {
			// One failed insert must not block the remaining recipients.
			x.logger.WarnwCtx(ctx, "Failed to insert notification",
				"rule_id", rule.ID,
				"task_id", task.ID,
				"user_id", userID,
				"error", err,
			)
			continue
		}
		inserted++
	}

	if inserted == 0 {
		return "", fmt.Errorf("all %d notification inserts failed for task %s", len(recipients), task.ID)
	}

	return fmt.Sprintf("Sent notification to %d recipient(s)", inserted), nil
}

// recipients resolves the notification targets from the action config flags.
// With neither flag set the assignee is the default target.
func (x *Executor) recipients(rule AutomationRule, task Task) []string {
	notifyAssignee := rule.ActionConfig.NotifyAssignee
	notifyCreator := rule.ActionConfig.NotifyCreator
	if !notifyAssignee && !notifyCreator {
		notifyAssignee = true
	}

	seen := make(map[string]bool, 2)
	var recipients []string
	if notifyAssignee && task.AssigneeID != nil && *task.AssigneeID != "" {
		seen[*task.AssigneeID] = true
		recipients = append(recipients, *task.AssigneeID)
	}
	if notifyCreator && task.CreatorID != nil && *task.CreatorID != "" && !seen[*task.CreatorID] {
		recipients = append(recipients, *task.CreatorID)
	}
	return recipients
}

func (x *Executor) updatePriority(ctx context.Context, rule AutomationRule, task Task) (string, error) {
	priority := rule.ActionConfig.Priority
	if priority == "" {
		return "", fmt.Errorf("rule %s has no priority configured", rule.ID)
	}
	if task.Priority == priority {
		return fmt.Sprintf("Priority already %s", priority), nil
	}
	if err := x.tasks.UpdatePriority(ctx, task.ID, priority); err != nil {
		return "", err
	}
	return fmt.Sprintf("Priority set to %s", priority), nil
}

func (x *Executor) changeStatus(ctx context.Context, rule AutomationRule, task Task) (string, error) {
	status := TaskStatus(rule.ActionConfig.Status)
	if status == "" {
		return "", fmt.Errorf("rule %s has no status configured", rule.ID)
	}
	if task.Status == status {
		return fmt.Sprintf("Status already %s", status), nil
	}
	if err := x.tasks.UpdateStatus(ctx, task.ID, status); err != nil {
		return "", err
	}
	return fmt.Sprintf("Status changed to %s", status), nil
}

func (x *Executor) addTag(ctx context.Context, rule AutomationRule, task Task) (string, error) {
	tag := rule.ActionConfig.Tag
	if tag == "" {
		return "", fmt.Errorf("rule %s has no tag configured", rule.ID)
	}
	if task.HasTag(tag) {
		return fmt.Sprintf("Tag %q already present", tag), nil
	}
	tags := make([]string, 0, len(task.Tags)+1)
	tags = append(tags, task.Tags...)
	tags = append(tags, tag)
	if err := x.tasks.UpdateTags(ctx, task.ID, tags); err != nil {
		return "", err
	}
	return fmt.Sprintf("Tag %q added", tag), nil
}
