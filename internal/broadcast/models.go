package broadcast

import "time"

type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityImportant Priority = "important"
	PriorityUrgent    Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityImportant, PriorityUrgent:
		return true
	}
	return false
}

// Roles allowed to send broadcasts in a workspace.
const (
	RoleOwner     = "owner"
	RoleOrganizer = "organizer"
	RoleModerator = "moderator"
)

var BroadcastRoles = []string{RoleOwner, RoleOrganizer, RoleModerator}

// Broadcast is the engine-owned record of one announcement. SentAt stays nil
// for scheduled broadcasts until a claim pass dispatches them.
type Broadcast struct {
	ID                string          `json:"id" db:"id"`
	WorkspaceID       string          `json:"workspace_id" db:"workspace_id"`
	SenderID          string          `json:"sender_id" db:"sender_id"`
	Content           string          `json:"content" db:"content"`
	Priority          Priority        `json:"priority" db:"priority"`
	ChannelIDs        []string        `json:"channel_ids" db:"channel_ids"`
	SendPush          bool            `json:"send_push" db:"send_push"`
	Audience          *AudienceFilter `json:"audience,omitempty" db:"audience"`
	ScheduledFor      *time.Time      `json:"scheduled_for,omitempty" db:"scheduled_for"`
	SentAt            *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
	FailedAt          *time.Time      `json:"failed_at,omitempty" db:"failed_at"`
	FailureReason     string          `json:"failure_reason,omitempty" db:"failure_reason"`
	ChannelsTargeted  int             `json:"channels_targeted" db:"channels_targeted"`
	ChannelsSucceeded int             `json:"channels_succeeded" db:"channels_succeeded"`
	PushRecipients    int             `json:"push_recipients" db:"push_recipients"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

type Channel struct {
	ID                 string `json:"id" db:"id"`
	WorkspaceID        string `json:"workspace_id" db:"workspace_id"`
	Name               string `json:"name" db:"name"`
	ParticipantVisible bool   `json:"participant_visible" db:"participant_visible"`
}

type Message struct {
	ID          string    `json:"id" db:"id"`
	ChannelID   string    `json:"channel_id" db:"channel_id"`
	SenderID    string    `json:"sender_id" db:"sender_id"`
	Body        string    `json:"body" db:"body"`
	Priority    Priority  `json:"priority" db:"priority"`
	BroadcastID string    `json:"broadcast_id" db:"broadcast_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// AudienceFilter narrows push recipients by attendee registration attributes.
// Empty fields do not constrain.
type AudienceFilter struct {
	RegistrationStatus string `json:"registration_status,omitempty"`
	TicketType         string `json:"ticket_type,omitempty"`
	SessionID          string `json:"session_id,omitempty"`
}

func (f *AudienceFilter) Empty() bool {
	return f == nil || (f.RegistrationStatus == "" && f.TicketType == "" && f.SessionID == "")
}

type DispatchRequest struct {
	WorkspaceID string
	SenderID    string
	ChannelIDs  []string
	Content     string
	Priority    Priority
	SendPush    bool
	ScheduleFor *time.Time
	Audience    *AudienceFilter
}

type MessageResult struct {
	ChannelID string `json:"channelId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

type DispatchResult struct {
	BroadcastID       string          `json:"broadcastId"`
	Scheduled         bool            `json:"scheduled"`
	ScheduledFor      *time.Time      `json:"scheduledFor,omitempty"`
	ChannelsTargeted  int             `json:"channelsTargeted"`
	ChannelsSucceeded int             `json:"channelsSuccess"`
	PushRecipients    int             `json:"pushRecipients"`
	MessageResults    []MessageResult `json:"messageResults"`
}
