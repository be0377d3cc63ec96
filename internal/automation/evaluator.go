package automation

import (
	"context"
	"fmt"
	"math"
	"time"

	"pulse/internal/config"
)

// Evaluator decides whether a rule's trigger condition holds for a task at a
// given instant. It is read-only: firing state lives in the execution log.
type Evaluator struct {
	log            ExecutionLog
	windows        config.DedupWindowConfig
	defaultOffsets []int
}

func NewEvaluator(log ExecutionLog, cfg config.AutomationConfig) *Evaluator {
	offsets := cfg.DeadlineOffsets
	if len(offsets) == 0 {
		offsets = []int{7, 3, 1}
	}
	return &Evaluator{
		log:            log,
		windows:        cfg.DedupWindows,
		defaultOffsets: offsets,
	}
}

// DedupWindow returns the re-fire suppression window for a trigger type.
func (e *Evaluator) DedupWindow(trigger TriggerType) time.Duration {
	switch trigger {
	case TriggerSLABreach:
		return e.windows.SLABreach
	case TriggerDeadlineApproaching:
		return e.windows.DeadlineApproaching
	case TriggerOverdue:
		return e.windows.Overdue
	}
	return e.windows.Overdue
}

// Evaluate returns whether the rule should fire for the task right now, and the
// human-readable trigger reason. A task whose condition holds but that already
// fired inside the trigger's dedup window does not fire again.
func (e *Evaluator) Evaluate(ctx context.Context, rule AutomationRule, task Task, now time.Time) (bool, string, error) {
	if task.Status.Terminal() {
		return false, "", nil
	}

	var (
		conditionMet bool
		reason       string
	)

	switch rule.Trigger {
	case TriggerSLABreach:
		if rule.TriggerConfig.SLAHours <= 0 {
			return false, "", fmt.Errorf("rule %s has no sla_hours configured", rule.ID)
		}
		deadline := task.CreatedAt.Add(time.Duration(rule.TriggerConfig.SLAHours) * time.Hour)
		if now.After(deadline) {
			conditionMet = true
			reason = fmt.Sprintf("Task exceeded %dh SLA", rule.TriggerConfig.SLAHours)
		}

	case TriggerDeadlineApproaching:
		if task.DueDate == nil {
			return false, "", nil
		}
		// Exact-day match: the "3" offset covers the third day before the due
		// date, so a task due in 3.5 days is still 4 days out and does not match.
		// A sweep that skips the matching day misses that reminder; there is no
		// catch-up.
		daysUntilDue := int(math.Ceil(task.DueDate.Sub(now).Hours() / 24))
		for _, offset := range e.offsets(rule) {
			if daysUntilDue == offset {
				conditionMet = true
				reason = fmt.Sprintf("%d day(s) until deadline", daysUntilDue)
				break
			}
		}

	case TriggerOverdue:
		if task.DueDate == nil {
			return false, "", nil
		}
		if now.After(*task.DueDate) {
			conditionMet = true
			reason = "Task is overdue"
		}

	default:
		return false, "", fmt.Errorf("unknown trigger type %q", rule.Trigger)
	}

	if !conditionMet {
		return false, "", nil
	}

	suppressed, err := e.firedWithinWindow(ctx, rule, task, now)
	if err != nil {
		return false, "", err
	}
	if suppressed {
		return false, "", nil
	}

	return true, reason, nil
}

func (e *Evaluator) offsets(rule AutomationRule) []int {
	if len(rule.TriggerConfig.DaysBefore) > 0 {
		return rule.TriggerConfig.DaysBefore
	}
	return e.defaultOffsets
}

func (e *Evaluator) firedWithinWindow(ctx context.Context, rule AutomationRule, task Task, now time.Time) (bool, error) {
	lastFired, found, err := e.log.LastFiredAt(ctx, rule.ID, task.ID)
	if err != nil {
		return false, fmt.Errorf("dedup lookup failed for rule %s task %s: %w", rule.ID, task.ID, err)
	}
	if !found {
		return false, nil
	}
	return now.Sub(lastFired) < e.DedupWindow(rule.Trigger), nil
}
