package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pulse/internal/config"
	"pulse/internal/events"
	"pulse/internal/logger"
	"pulse/pkg/errors"
	"pulse/pkg/metrics"
)

// Sweep is one full pass of evaluating every enabled rule against every open
// task in its workspace. It keeps no state between runs; the execution log's
// dedup windows make repeated runs idempotent.
type Sweep struct {
	rules     RuleRepository
	tasks     TaskRepository
	evaluator *Evaluator
	executor  *Executor
	claimer   DedupClaimer
	publisher events.Publisher
	cfg       config.AutomationConfig
	logger    logger.Logger
}

func NewSweep(
	rules RuleRepository,
	tasks TaskRepository,
	evaluator *Evaluator,
	executor *Executor,
	claimer DedupClaimer,
	publisher events.Publisher,
	cfg config.AutomationConfig,
	lg logger.Logger,
) *Sweep {
	if claimer == nil {
		claimer = NopClaimer{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Sweep{
		rules:     rules,
		tasks:     tasks,
		evaluator: evaluator,
		executor:  executor,
		claimer:   claimer,
		publisher: publisher,
		cfg:       cfg,
		logger:    lg,
	}
}

// Run evaluates all workspaces. Per-workspace and per-unit failures are
// collected into the result; only a failure to load the rule set aborts the run.
func (s *Sweep) Run(ctx context.Context) (*SweepResult, error) {
	start := time.Now()

	listCtx, cancel := context.WithTimeout(ctx, s.cfg.UnitTimeout)
	rules, err := s.rules.ListEnabled(listCtx)
	cancel()
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	byWorkspace := groupByWorkspace(rules)

	result := &SweepResult{Errors: []string{}}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.WorkerCount)

	for workspaceID, workspaceRules := range byWorkspace {
		g.Go(func() error {
			s.sweepWorkspace(gCtx, workspaceID, workspaceRules, result, &mu)
			return nil
		})
	}
	_ = g.Wait()

	metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	metrics.ObserveSweepDuration(time.Since(start))

	s.logger.InfowCtx(ctx, "Sweep completed",
		"workspaces", len(byWorkspace),
		"fired", result.Fired(),
		"errors", len(result.Errors),
		"duration", time.Since(start),
	)

	return result, nil
}

func (s *Sweep) sweepWorkspace(ctx context.Context, workspaceID string, rules []AutomationRule, result *SweepResult, mu *sync.Mutex) {
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.UnitTimeout)
	tasks, err := s.tasks.ListOpen(listCtx, workspaceID)
	cancel()
	if err != nil {
		s.collectError(ctx, result, mu, fmt.Sprintf("workspace %s: %v", workspaceID, err))
		return
	}

	now := time.Now().UTC()
	for _, rule := range rules {
		for _, task := range tasks {
			if ctx.Err() != nil {
				return
			}
			s.runUnit(ctx, rule, task, now, result, mu)
		}
	}
}

// runUnit handles one (rule, task) pair. Panics and errors are confined to the
// pair so one bad rule config cannot block the rest of the sweep.
func (s *Sweep) runUnit(ctx context.Context, rule AutomationRule, task Task, now time.Time, result *SweepResult, mu *sync.Mutex) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.RecoverPanic(r)
			s.collectError(ctx, result, mu, fmt.Sprintf("rule %s task %s: %v", rule.ID, task.ID, err))
		}
	}()

	unitCtx, cancel := context.WithTimeout(ctx, s.cfg.UnitTimeout)
	defer cancel()

	fire, reason, err := s.evaluator.Evaluate(unitCtx, rule, task, now)
	if err != nil {
		s.collectError(ctx, result, mu, fmt.Sprintf("rule %s task %s: evaluate: %v", rule.ID, task.ID, err))
		return
	}
	if !fire {
		return
	}

	claimed, err := s.claimer.Claim(unitCtx, rule.ID, task.ID, s.evaluator.DedupWindow(rule.Trigger))
	if err != nil {
		s.collectError(ctx, result, mu, fmt.Sprintf("rule %s task %s: claim: %v", rule.ID, task.ID, err))
		return
	}
	if !claimed {
		// A concurrent sweep owns this firing.
		return
	}

	description, err := s.executor.Execute(unitCtx, rule, task, reason)
	if err != nil {
		if releaseErr := s.claimer.Release(unitCtx, rule.ID, task.ID); releaseErr != nil {
			s.logger.WarnwCtx(ctx, "Failed to release dedup claim",
				"rule_id", rule.ID,
				"task_id", task.ID,
				"error", releaseErr,
			)
		}
		s.collectError(ctx, result, mu, fmt.Sprintf("rule %s task %s: execute: %v", rule.ID, task.ID, err))
		return
	}

	mu.Lock()
	switch rule.Trigger {
	case TriggerSLABreach:
		result.SLABreaches++
	case TriggerDeadlineApproaching:
		result.DeadlineReminders++
	case TriggerOverdue:
		result.OverdueEscalations++
	}
	mu.Unlock()

	metrics.SweepFiringsTotal.WithLabelValues(string(rule.Trigger)).Inc()

	s.logger.InfowCtx(ctx, "Rule fired",
		"rule_id", rule.ID,
		"task_id", task.ID,
		"trigger", rule.Trigger,
		"reason", reason,
		"action", description,
	)

	if err := s.publisher.Publish(ctx, events.EngineEvent{
		Kind:        events.KindRuleFired,
		WorkspaceID: task.WorkspaceID,
		RuleID:      rule.ID,
		TaskID:      task.ID,
		Reason:      reason,
	}); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish rule firing event",
			"rule_id", rule.ID,
			"task_id", task.ID,
			"error", err,
		)
	}
}

func (s *Sweep) collectError(ctx context.Context, result *SweepResult, mu *sync.Mutex, msg string) {
	metrics.SweepUnitErrorsTotal.Inc()
	s.logger.ErrorwCtx(ctx, "Sweep unit error", "error", msg)
	mu.Lock()
	result.Errors = append(result.Errors, msg)
	mu.Unlock()
}

func groupByWorkspace(rules []AutomationRule) map[string][]AutomationRule {
	byWorkspace := make(map[string][]AutomationRule)
	for _, rule := range rules {
		byWorkspace[rule.WorkspaceID] = append(byWorkspace[rule.WorkspaceID], rule)
	}
	return byWorkspace
}
