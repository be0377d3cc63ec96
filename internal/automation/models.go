package automation

import "time"

type TriggerType string

const (
	TriggerSLABreach           TriggerType = "SLA_BREACH"
	TriggerDeadlineApproaching TriggerType = "DEADLINE_APPROACHING"
	TriggerOverdue             TriggerType = "OVERDUE"
)

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerSLABreach, TriggerDeadlineApproaching, TriggerOverdue:
		return true
	}
	return false
}

type ActionType string

const (
	ActionSendNotification ActionType = "SEND_NOTIFICATION"
	ActionUpdatePriority   ActionType = "UPDATE_PRIORITY"
	ActionChangeStatus     ActionType = "CHANGE_STATUS"
	ActionAddTag           ActionType = "ADD_TAG"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionSendNotification, ActionUpdatePriority, ActionChangeStatus, ActionAddTag:
		return true
	}
	return false
}

type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusBlocked    TaskStatus = "BLOCKED"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusCancelled  TaskStatus = "CANCELLED"
)

// Terminal reports whether a task in this status is excluded from evaluation.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type AutomationRule struct {
	ID            string        `json:"id" db:"id"`
	WorkspaceID   string        `json:"workspace_id" db:"workspace_id"`
	Trigger       TriggerType   `json:"trigger_type" db:"trigger_type"`
	TriggerConfig TriggerConfig `json:"trigger_config" db:"trigger_config"`
	Action        ActionType    `json:"action_type" db:"action_type"`
	ActionConfig  ActionConfig  `json:"action_config" db:"action_config"`
	Enabled       bool          `json:"enabled" db:"enabled"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

type TriggerConfig struct {
	SLAHours   int   `json:"sla_hours,omitempty"`
	DaysBefore []int `json:"days_before,omitempty"`
}

type ActionConfig struct {
	NotifyAssignee bool   `json:"notify_assignee,omitempty"`
	NotifyCreator  bool   `json:"notify_creator,omitempty"`
	Priority       string `json:"priority,omitempty"`
	Status         string `json:"status,omitempty"`
	Tag            string `json:"tag,omitempty"`
}

type Task struct {
	ID          string     `json:"id" db:"id"`
	WorkspaceID string     `json:"workspace_id" db:"workspace_id"`
	Title       string     `json:"title" db:"title"`
	Status      TaskStatus `json:"status" db:"status"`
	Priority    string     `json:"priority" db:"priority"`
	AssigneeID  *string    `json:"assignee_id,omitempty" db:"assignee_id"`
	CreatorID   *string    `json:"creator_id,omitempty" db:"creator_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	DueDate     *time.Time `json:"due_date,omitempty" db:"due_date"`
	Tags        []string   `json:"tags" db:"tags"`
}

func (t Task) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// ExecutionLogEntry is the append-only record of a rule firing for a task. Its
// presence within the rule's dedup window is what suppresses re-firing, so an
// entry must never be written for an action that did not execute.
type ExecutionLogEntry struct {
	RuleID  string    `json:"rule_id" db:"rule_id"`
	TaskID  string    `json:"task_id" db:"task_id"`
	FiredAt time.Time `json:"fired_at" db:"fired_at"`
	Action  string    `json:"action" db:"action"`
	Success bool      `json:"success" db:"success"`
	Reason  string    `json:"reason" db:"reason"`
}

type Notification struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Title       string    `json:"title" db:"title"`
	Body        string    `json:"body" db:"body"`
	Kind        string    `json:"kind" db:"kind"`
	TaskID      *string   `json:"task_id,omitempty" db:"task_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

const NotificationKindAutomation = "automation"

type SweepResult struct {
	SLABreaches        int      `json:"slaBreaches"`
	DeadlineReminders  int      `json:"deadlineReminders"`
	OverdueEscalations int      `json:"overdueEscalations"`
	Errors             []string `json:"errors"`
}

func (r *SweepResult) Fired() int {
	return r.SLABreaches + r.DeadlineReminders + r.OverdueEscalations
}
