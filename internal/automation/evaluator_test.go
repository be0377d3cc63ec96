package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/config"
)

type fakeExecutionLog struct {
	mu        sync.Mutex
	lastFired map[string]time.Time
	entries   []ExecutionLogEntry
	lookupErr error
	appendErr error
}

func newFakeExecutionLog() *fakeExecutionLog {
	return &fakeExecutionLog{lastFired: make(map[string]time.Time)}
}

func (f *fakeExecutionLog) LastFiredAt(_ context.Context, ruleID, taskID string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return time.Time{}, false, f.lookupErr
	}
	firedAt, ok := f.lastFired[ruleID+":"+taskID]
	return firedAt, ok, nil
}

func (f *fakeExecutionLog) Append(_ context.Context, entry ExecutionLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, entry)
	f.lastFired[entry.RuleID+":"+entry.TaskID] = entry.FiredAt
	return nil
}

func testAutomationConfig() config.AutomationConfig {
	return config.AutomationConfig{
		WorkerCount: 2,
		UnitTimeout: 5 * time.Second,
		DedupWindows: config.DedupWindowConfig{
			SLABreach:           24 * time.Hour,
			DeadlineApproaching: 20 * time.Hour,
			Overdue:             24 * time.Hour,
		},
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }

func TestEvaluate_SLABreach(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	rule := AutomationRule{
		ID:            "rule-1",
		WorkspaceID:   "ws-1",
		Trigger:       TriggerSLABreach,
		TriggerConfig: TriggerConfig{SLAHours: 24},
	}

	tests := []struct {
		name     string
		created  time.Time
		status   TaskStatus
		wantFire bool
	}{
		{
			name:     "created past the SLA",
			created:  now.Add(-25 * time.Hour),
			status:   StatusTodo,
			wantFire: true,
		},
		{
			name:     "created one second past the SLA",
			created:  now.Add(-24*time.Hour - time.Second),
			status:   StatusTodo,
			wantFire: true,
		},
		{
			name:     "created exactly at the SLA boundary",
			created:  now.Add(-24 * time.Hour),
			status:   StatusTodo,
			wantFire: false,
		},
		{
			name:     "created one second before the SLA",
			created:  now.Add(-24*time.Hour + time.Second),
			status:   StatusTodo,
			wantFire: false,
		},
		{
			name:     "created within the SLA",
			created:  now.Add(-23 * time.Hour),
			status:   StatusTodo,
			wantFire: false,
		},
		{
			name:     "completed task never fires",
			created:  now.Add(-48 * time.Hour),
			status:   StatusCompleted,
			wantFire: false,
		},
		{
			name:     "cancelled task never fires",
			created:  now.Add(-48 * time.Hour),
			status:   StatusCancelled,
			wantFire: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := NewEvaluator(newFakeExecutionLog(), testAutomationConfig())
			task := Task{ID: "task-1", WorkspaceID: "ws-1", Status: tt.status, CreatedAt: tt.created}

			fire, reason, err := eval.Evaluate(context.Background(), rule, task, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFire, fire)
			if tt.wantFire {
				assert.Equal(t, "Task exceeded 24h SLA", reason)
			}
		})
	}
}

func TestEvaluate_SLABreach_MissingConfig(t *testing.T) {
	eval := NewEvaluator(newFakeExecutionLog(), testAutomationConfig())
	rule := AutomationRule{ID: "rule-1", Trigger: TriggerSLABreach}
	task := Task{ID: "task-1", Status: StatusTodo, CreatedAt: time.Now().Add(-48 * time.Hour)}

	fire, _, err := eval.Evaluate(context.Background(), rule, task, time.Now())
	require.Error(t, err)
	assert.False(t, fire)
	assert.Contains(t, err.Error(), "sla_hours")
}

func TestEvaluate_DeadlineApproaching(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		daysBefore []int
		due        *time.Time
		wantFire   bool
		wantReason string
	}{
		{
			name:       "due in exactly three days",
			due:        timePtr(now.Add(72 * time.Hour)),
			wantFire:   true,
			wantReason: "3 day(s) until deadline",
		},
		{
			name:     "due in three and a half days is still four days out",
			due:      timePtr(now.Add(84 * time.Hour)),
			wantFire: false,
		},
		{
			name:       "due in two and a half days rounds up to three",
			due:        timePtr(now.Add(60 * time.Hour)),
			wantFire:   true,
			wantReason: "3 day(s) until deadline",
		},
		{
			name:     "due in four and a half days matches nothing",
			due:      timePtr(now.Add(108 * time.Hour)),
			wantFire: false,
		},
		{
			name:     "due in two days matches no default offset",
			due:      timePtr(now.Add(48 * time.Hour)),
			wantFire: false,
		},
		{
			name:       "custom offsets override defaults",
			daysBefore: []int{2},
			due:        timePtr(now.Add(48 * time.Hour)),
			wantFire:   true,
			wantReason: "2 day(s) until deadline",
		},
		{
			name:       "custom offsets exclude defaults",
			daysBefore: []int{2},
			due:        timePtr(now.Add(72 * time.Hour)),
			wantFire:   false,
		},
		{
			name:     "no due date",
			due:      nil,
			wantFire: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := NewEvaluator(newFakeExecutionLog(), testAutomationConfig())
			rule := AutomationRule{
				ID:            "rule-1",
				Trigger:       TriggerDeadlineApproaching,
				TriggerConfig: TriggerConfig{DaysBefore: tt.daysBefore},
			}
			task := Task{ID: "task-1", Status: StatusInProgress, DueDate: tt.due}

			fire, reason, err := eval.Evaluate(context.Background(), rule, task, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFire, fire)
			if tt.wantFire {
				assert.Equal(t, tt.wantReason, reason)
			}
		})
	}
}

func TestEvaluate_Overdue(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rule := AutomationRule{ID: "rule-1", Trigger: TriggerOverdue}

	tests := []struct {
		name     string
		due      *time.Time
		wantFire bool
	}{
		{name: "past due", due: timePtr(now.Add(-time.Hour)), wantFire: true},
		{name: "due in the future", due: timePtr(now.Add(time.Hour)), wantFire: false},
		{name: "due exactly now", due: timePtr(now), wantFire: false},
		{name: "no due date", due: nil, wantFire: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := NewEvaluator(newFakeExecutionLog(), testAutomationConfig())
			task := Task{ID: "task-1", Status: StatusTodo, DueDate: tt.due}

			fire, reason, err := eval.Evaluate(context.Background(), rule, task, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFire, fire)
			if tt.wantFire {
				assert.Equal(t, "Task is overdue", reason)
			}
		})
	}
}

func TestEvaluate_UnknownTrigger(t *testing.T) {
	eval := NewEvaluator(newFakeExecutionLog(), testAutomationConfig())
	rule := AutomationRule{ID: "rule-1", Trigger: TriggerType("SOMETHING_ELSE")}
	task := Task{ID: "task-1", Status: StatusTodo}

	_, _, err := eval.Evaluate(context.Background(), rule, task, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trigger type")
}

func TestEvaluate_DedupWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rule := AutomationRule{ID: "rule-1", Trigger: TriggerOverdue}
	task := Task{ID: "task-1", Status: StatusTodo, DueDate: timePtr(now.Add(-time.Hour))}

	tests := []struct {
		name      string
		lastFired time.Time
		wantFire  bool
	}{
		{name: "fired inside the window", lastFired: now.Add(-23 * time.Hour), wantFire: false},
		{name: "fired just inside the window", lastFired: now.Add(-24*time.Hour + time.Second), wantFire: false},
		{name: "fired exactly one window ago", lastFired: now.Add(-24 * time.Hour), wantFire: true},
		{name: "fired outside the window", lastFired: now.Add(-25 * time.Hour), wantFire: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := newFakeExecutionLog()
			log.lastFired["rule-1:task-1"] = tt.lastFired

			eval := NewEvaluator(log, testAutomationConfig())
			fire, _, err := eval.Evaluate(context.Background(), rule, task, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFire, fire)
		})
	}
}

func TestEvaluate_DedupLookupFailure(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	log := newFakeExecutionLog()
	log.lookupErr = errors.New("connection refused")

	eval := NewEvaluator(log, testAutomationConfig())
	rule := AutomationRule{ID: "rule-1", Trigger: TriggerOverdue}
	task := Task{ID: "task-1", Status: StatusTodo, DueDate: timePtr(now.Add(-time.Hour))}

	fire, _, err := eval.Evaluate(context.Background(), rule, task, now)
	require.Error(t, err)
	assert.False(t, fire)
}

func TestDedupWindow_PerTrigger(t *testing.T) {
	eval := NewEvaluator(newFakeExecutionLog(), testAutomationConfig())

	assert.Equal(t, 24*time.Hour, eval.DedupWindow(TriggerSLABreach))
	assert.Equal(t, 20*time.Hour, eval.DedupWindow(TriggerDeadlineApproaching))
	assert.Equal(t, 24*time.Hour, eval.DedupWindow(TriggerOverdue))
}
