package automation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/logger"
)

type fakeTaskRepository struct {
	mu              sync.Mutex
	tasks           []Task
	listErr         error
	blockList       bool
	updateErr       error
	priorityUpdates map[string]string
	statusUpdates   map[string]TaskStatus
	tagUpdates      map[string][]string
}

func newFakeTaskRepository(tasks ...Task) *fakeTaskRepository {
	return &fakeTaskRepository{
		tasks:           tasks,
		priorityUpdates: make(map[string]string),
		statusUpdates:   make(map[string]TaskStatus),
		tagUpdates:      make(map[string][]string),
	}
}

func (f *fakeTaskRepository) ListOpen(ctx context.Context, workspaceID string) ([]Task, error) {
	if f.blockList {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var open []Task
	for _, task := range f.tasks {
		if task.WorkspaceID == workspaceID && !task.Status.Terminal() {
			open = append(open, task)
		}
	}
	return open, nil
}

func (f *fakeTaskRepository) UpdatePriority(_ context.Context, taskID, priority string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.priorityUpdates[taskID] = priority
	return nil
}

func (f *fakeTaskRepository) UpdateStatus(_ context.Context, taskID string, status TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.statusUpdates[taskID] = status
	return nil
}

func (f *fakeTaskRepository) UpdateTags(_ context.Context, taskID string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.tagUpdates[taskID] = tags
	return nil
}

type fakeNotificationRepository struct {
	mu       sync.Mutex
	inserted []Notification
	failFor  map[string]bool
}

func newFakeNotificationRepository() *fakeNotificationRepository {
	return &fakeNotificationRepository{failFor: make(map[string]bool)}
}

func (f *fakeNotificationRepository) Insert(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[n.UserID] {
		return errors.New("insert failed")
	}
	f.inserted = append(f.inserted, n)
	return nil
}

func TestExecute_SendNotification_DefaultsToAssignee(t *testing.T) {
	tasks := newFakeTaskRepository()
	notifications := newFakeNotificationRepository()
	log := newFakeExecutionLog()
	executor := NewExecutor(tasks, notifications, log, logger.NopLogger())

	rule := AutomationRule{ID: "rule-1", Action: ActionSendNotification}
	task := Task{
		ID:          "task-1",
		WorkspaceID: "ws-1",
		Title:       "Book the venue",
		AssigneeID:  strPtr("user-a"),
		CreatorID:   strPtr("user-b"),
	}

	desc, err := executor.Execute(context.Background(), rule, task, "Task is overdue")
	require.NoError(t, err)
	assert.Equal(t, "Sent notification to 1 recipient(s)", desc)

	require.Len(t, notifications.inserted, 1)
	n := notifications.inserted[0]
	assert.Equal(t, "user-a", n.UserID)
	assert.Equal(t, "ws-1", n.WorkspaceID)
	assert.Equal(t, "Automation: Book the venue", n.Title)
	assert.Equal(t, "Task is overdue", n.Body)
	assert.Equal(t, NotificationKindAutomation, n.Kind)
}

func TestExecute_SendNotification_BothRecipientsDeduplicated(t *testing.T) {
	notifications := newFakeNotificationRepository()
	executor := NewExecutor(newFakeTaskRepository(), notifications, newFakeExecutionLog(), logger.NopLogger())

	rule := AutomationRule{
		ID:           "rule-1",
		Action:       ActionSendNotification,
		ActionConfig: ActionConfig{NotifyAssignee: true, NotifyCreator: true},
	}
	task := Task{
		ID:          "task-1",
		WorkspaceID: "ws-1",
		Title:       "Send invitations",
		AssigneeID:  strPtr("user-a"),
		CreatorID:   strPtr("user-a"),
	}

	_, err := executor.Execute(context.Background(), rule, task, "reason")
	require.NoError(t, err)
	assert.Len(t, notifications.inserted, 1)
}

func TestExecute_SendNotification_NoRecipients(t *testing.T) {
	notifications := newFakeNotificationRepository()
	log := newFakeExecutionLog()
	executor := NewExecutor(newFakeTaskRepository(), notifications, log, logger.NopLogger())

	rule := AutomationRule{ID: "rule-1", Action: ActionSendNotification}
	task := Task{ID: "task-1", WorkspaceID: "ws-1", Title: "Unassigned"}

	desc, err := executor.Execute(context.Background(), rule, task, "reason")
	require.NoError(t, err)
	assert.Equal(t, "No recipients to notify", desc)
	assert.Empty(t, notifications.inserted)
	assert.Len(t, log.entries, 1)
}

func TestExecute_SendNotification_PartialInsertFailure(t *testing.T) {
	notifications := newFakeNotificationRepository()
	notifications.failFor["user-a"] = true
	log := newFakeExecutionLog()
	executor := NewExecutor(newFakeTaskRepository(), notifications, log, logger.NopLogger())

	rule := AutomationRule{
		ID:           "rule-1",
		Action:       ActionSendNotification,
		ActionConfig: ActionConfig{NotifyAssignee: true, NotifyCreator: true},
	}
	task := Task{
		ID:          "task-1",
		WorkspaceID: "ws-1",
		Title:       "Print badges",
		AssigneeID:  strPtr("user-a"),
		CreatorID:   strPtr("user-b"),
	}

	desc, err := executor.Execute(context.Background(), rule, task, "reason")
	require.NoError(t, err)
	assert.Equal(t, "Sent notification to 1 recipient(s)", desc)
	require.Len(t, notifications.inserted, 1)
	assert.Equal(t, "user-b", notifications.inserted[0].UserID)
}

func TestExecute_SendNotification_AllInsertsFail(t *testing.T) {
	notifications := newFakeNotificationRepository()
	notifications.failFor["user-a"] = true
	log := newFakeExecutionLog()
	executor := NewExecutor(newFakeTaskRepository(), notifications, log, logger.NopLogger())

	rule := AutomationRule{ID: "rule-1", Action: ActionSendNotification}
	task := Task{ID: "task-1", WorkspaceID: "ws-1", Title: "Order catering", AssigneeID: strPtr("user-a")}

	_, err := executor.Execute(context.Background(), rule, task, "reason")
	require.Error(t, err)
	assert.Empty(t, log.entries, "a failed action must not be recorded as fired")
}

func TestExecute_UpdatePriority(t *testing.T) {
	tasks := newFakeTaskRepository()
	executor := NewExecutor(tasks, newFakeNotificationRepository(), newFakeExecutionLog(), logger.NopLogger())

	rule := AutomationRule{ID: "rule-1", Action: ActionUpdatePriority, ActionConfig: ActionConfig{Priority: "high"}}
	task := Task{ID: "task-1", Priority: "medium"}

	desc, err := executor.Execute(context.Background(), rule, task, "reason")
	require.NoError(t, err)
	assert.Equal(t, "Priority set to high", desc)
	assert.Equal(t, "high", tasks.priorityUpdates["task-1"])
}

func TestExecute_UpdatePriority_AlreadySet(t *testing.T) {
	tasks := newFakeTaskRepository()
	executor := NewExecutor(tasks, newFakeNotificationRepository(), newFakeExecutionLog(), logger.NopLogger())

	rule := AutomationRule{ID: "rule-1", Action: ActionUpdatePriority, ActionConfig: ActionConfig{Priority: "high"}}
	task := Task{ID: "task-1", Priority: "high"}

	desc, err := executor.Execute(context.Background(), rule, task, "reason")
	require.NoError(t, err)
	assert.Equal(t, "Priority already high", desc)
	assert.Empty(t, tasks.priorityUpdates)
}

func TestExecute_ChangeStatus(t *testing.T) {
	tasks := newFakeTaskRepository()
	executor := NewExecutor(tasks, newFakeNotificationRepository(), newFakeExecutionLog(), logger.NopLogger())

	rule := AutomationRule{ID: "rule-1", Action: ActionChangeStatus, ActionConfig: ActionConfig{Status: "BLOCKED"}}
	task := Task{ID: "task-1", Status: StatusTodo}

	desc, err := executor.Execute(context.Background(), rule, task, "reason")
	require.NoError(t, err)
	assert.Equal(t, "Status changed to BLOCKED", desc)
	assert.Equal(t, StatusBlocked, tasks.statusUpdates["task-1"])
}

func TestExecute_AddTag(t *testing.T) {
	tests := []struct {
		name       string
		existing   []string
		tag        string
		wantDesc   string
		wantUpdate []string
	}{
		{
			name:       "tag appended",
			existing:   []string{"venue"},
			tag:        "escalated",
			wantDesc:   `Tag "escalated" added`,
			wantUpdate: []string{"venue", "escalated"},
		},
		{
			name:     "tag already present is a no-op",
			existing: []string{"venue", "escalated"},
			tag:      "escalated",
			wantDesc: `Tag "escalated" already present`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := newFakeTaskRepository()
			executor := NewExecutor(tasks, newFakeNotificationRepository(), newFakeExecutionLog(), logger.NopLogger())

			rule := AutomationRule{ID: "rule-1", Action: ActionAddTag, ActionConfig: ActionConfig{Tag: tt.tag}}
			task := Task{ID: "task-1", Tags: tt.existing}

			desc, err := executor.Execute(context.Background(), rule, task, "reason")
			require.NoError(t, err)
			assert.Equal(t, tt.wantDesc, desc)
			if tt.wantUpdate != nil {
				assert.Equal(t, tt.wantUpdate, tasks.tagUpdates["task-1"])
			} else {
				assert.Empty(t, tasks.tagUpdates)
			}
		})
	}
}

func TestExecute_MissingActionConfig(t *testing.T) {
	tests := []struct {
		name   string
		action ActionType
	}{
		{name: "priority missing", action: ActionUpdatePriority},
		{name: "status missing", action: ActionChangeStatus},
		{name: "tag missing", action: ActionAddTag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := NewExecutor(newFakeTaskRepository(), newFakeNotificationRepository(), newFakeExecutionLog(), logger.NopLogger())
			rule := AutomationRule{ID: "rule-1", Action: tt.action}

			_, err := executor.Execute(context.Background(), rule, Task{ID: "task-1"}, "reason")
			require.Error(t, err)
		})
	}
}

func TestExecute_UnknownAction(t *testing.T) {
	executor := NewExecutor(newFakeTaskRepository(), newFakeNotificationRepository(), newFakeExecutionLog(), logger.NopLogger())
	rule := AutomationRule{ID: "rule-1", Action: ActionType("DELETE_EVERYTHING")}

	_, err := executor.Execute(context.Background(), rule, Task{ID: "task-1"}, "reason")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action type")
}

func TestExecute_RecordsSuccessfulFiring(t *testing.T) {
	log := newFakeExecutionLog()
	executor := NewExecutor(newFakeTaskRepository(), newFakeNotificationRepository(), log, logger.NopLogger())

	rule := AutomationRule{ID: "rule-1", Action: ActionAddTag, ActionConfig: ActionConfig{Tag: "late"}}
	task := Task{ID: "task-1"}

	_, err := executor.Execute(context.Background(), rule, task, "Task is overdue")
	require.NoError(t, err)

	require.Len(t, log.entries, 1)
	entry := log.entries[0]
	assert.Equal(t, "rule-1", entry.RuleID)
	assert.Equal(t, "task-1", entry.TaskID)
	assert.True(t, entry.Success)
	assert.Equal(t, "Task is overdue", entry.Reason)
	assert.False(t, entry.FiredAt.IsZero())
}

func TestExecute_LogAppendFailure(t *testing.T) {
	log := newFakeExecutionLog()
	log.appendErr = errors.New("write failed")
	tasks := newFakeTaskRepository()
	executor := NewExecutor(tasks, newFakeNotificationRepository(), log, logger.NopLogger())

	rule := AutomationRule{ID: "rule-1", Action: ActionAddTag, ActionConfig: ActionConfig{Tag: "late"}}

	_, err := executor.Execute(context.Background(), rule, Task{ID: "task-1"}, "reason")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log append failed")
}
