package broadcast

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type ChannelRepository interface {
	ByIDs(ctx context.Context, workspaceID string, channelIDs []string) ([]Channel, error)
	ParticipantVisible(ctx context.Context, workspaceID string) ([]Channel, error)
}

type MembershipRepository interface {
	ActiveUserIDs(ctx context.Context, channelIDs []string) ([]string, error)
}

type RegistrationRepository interface {
	MatchingUserIDs(ctx context.Context, workspaceID string, filter AudienceFilter) ([]string, error)
}

type RoleRepository interface {
	HasBroadcastRole(ctx context.Context, workspaceID, userID string) (bool, error)
}

type BroadcastRepository interface {
	Insert(ctx context.Context, b Broadcast) error
	MarkSent(ctx context.Context, broadcastID string, sentAt time.Time, targeted, succeeded, pushRecipients int) error
	MarkFailed(ctx context.Context, broadcastID string, failedAt time.Time, reason string) error
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]Broadcast, error)
}

type MessageRepository interface {
	Insert(ctx context.Context, m Message) error
}

type PostgresChannelRepository struct {
	db *sql.DB
}

func NewChannelRepository(db *sql.DB) ChannelRepository {
	return &PostgresChannelRepository{db: db}
}

func (r *PostgresChannelRepository) ByIDs(ctx context.Context, workspaceID string, channelIDs []string) ([]Channel, error) {
	query := `
		SELECT id, workspace_id, name, participant_visible
		FROM channels
		WHERE workspace_id = $1 AND id = ANY($2)
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID, pq.Array(channelIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	return scanChannels(rows)
}

func (r *PostgresChannelRepository) ParticipantVisible(ctx context.Context, workspaceID string) ([]Channel, error) {
	query := `
		SELECT id, workspace_id, name, participant_visible
		FROM channels
		WHERE workspace_id = $1 AND participant_visible = true
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	return scanChannels(rows)
}

func scanChannels(rows *sql.Rows) ([]Channel, error) {
	var channels []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ID, &ch.WorkspaceID, &ch.Name, &ch.ParticipantVisible); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return channels, nil
}

type PostgresMembershipRepository struct {
	db *sql.DB
}

func NewMembershipRepository(db *sql.DB) MembershipRepository {
	return &PostgresMembershipRepository{db: db}
}

func (r *PostgresMembershipRepository) ActiveUserIDs(ctx context.Context, channelIDs []string) ([]string, error) {
	query := `
		SELECT DISTINCT user_id
		FROM channel_memberships
		WHERE channel_id = ANY($1) AND active = true
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(channelIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return userIDs, nil
}

type PostgresRegistrationRepository struct {
	db *sql.DB
}

func NewRegistrationRepository(db *sql.DB) RegistrationRepository {
	return &PostgresRegistrationRepository{db: db}
}

func (r *PostgresRegistrationRepository) MatchingUserIDs(ctx context.Context, workspaceID string, filter AudienceFilter) ([]string, error) {
	query := `
		SELECT user_id FROM attendee_registrations
		WHERE workspace_id = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR ticket_type = $3)
		  AND ($4 = '' OR $4 = ANY(session_ids))
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID, filter.RegistrationStatus, filter.TicketType, filter.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query registrations: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return userIDs, nil
}

type PostgresRoleRepository struct {
	db *sql.DB
}

func NewRoleRepository(db *sql.DB) RoleRepository {
	return &PostgresRoleRepository{db: db}
}

func (r *PostgresRoleRepository) HasBroadcastRole(ctx context.Context, workspaceID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM workspace_members
			WHERE workspace_id = $1 AND user_id = $2 AND role = ANY($3)
		)
	`, workspaceID, userID, pq.Array(BroadcastRoles)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query workspace role: %w", err)
	}
	return exists, nil
}

type PostgresBroadcastRepository struct {
	db *sql.DB
}

func NewBroadcastRepository(db *sql.DB) BroadcastRepository {
	return &PostgresBroadcastRepository{db: db}
}

func (r *PostgresBroadcastRepository) Insert(ctx context.Context, b Broadcast) error {
	var audience []byte
	if b.Audience != nil {
		var err error
		audience, err = json.Marshal(b.Audience)
		if err != nil {
			return fmt.Errorf("failed to encode audience filter: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO broadcasts (id, workspace_id, sender_id, content, priority, channel_ids, send_push, audience, scheduled_for, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.WorkspaceID, b.SenderID, b.Content, b.Priority, pq.Array(b.ChannelIDs), b.SendPush, audience, b.ScheduledFor, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert broadcast: %w", err)
	}
	return nil
}

func (r *PostgresBroadcastRepository) MarkSent(ctx context.Context, broadcastID string, sentAt time.Time, targeted, succeeded, pushRecipients int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE broadcasts
		SET sent_at = $1, channels_targeted = $2, channels_succeeded = $3, push_recipients = $4
		WHERE id = $5
	`, sentAt, targeted, succeeded, pushRecipients, broadcastID)
	if err != nil {
		return fmt.Errorf("failed to mark broadcast sent: %w", err)
	}
	return nil
}

// MarkFailed parks a scheduled broadcast that can never dispatch, keeping it
// out of later claim passes.
func (r *PostgresBroadcastRepository) MarkFailed(ctx context.Context, broadcastID string, failedAt time.Time, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE broadcasts
		SET failed_at = $1, failure_reason = $2
		WHERE id = $3
	`, failedAt, reason, broadcastID)
	if err != nil {
		return fmt.Errorf("failed to mark broadcast failed: %w", err)
	}
	return nil
}

func (r *PostgresBroadcastRepository) DueScheduled(ctx context.Context, now time.Time, limit int) ([]Broadcast, error) {
	query := `
		SELECT id, workspace_id, sender_id, content, priority, channel_ids, send_push, audience, scheduled_for, created_at
		FROM broadcasts
		WHERE sent_at IS NULL AND failed_at IS NULL AND scheduled_for IS NOT NULL AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due broadcasts: %w", err)
	}
	defer rows.Close()

	var broadcasts []Broadcast
	for rows.Next() {
		var b Broadcast
		var audience []byte
		if err := rows.Scan(
			&b.ID,
			&b.WorkspaceID,
			&b.SenderID,
			&b.Content,
			&b.Priority,
			pq.Array(&b.ChannelIDs),
			&b.SendPush,
			&audience,
			&b.ScheduledFor,
			&b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan broadcast: %w", err)
		}
		if len(audience) > 0 {
			b.Audience = &AudienceFilter{}
			if err := json.Unmarshal(audience, b.Audience); err != nil {
				return nil, fmt.Errorf("failed to decode audience filter for broadcast %s: %w", b.ID, err)
			}
		}
		broadcasts = append(broadcasts, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return broadcasts, nil
}

type PostgresMessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Insert(ctx context.Context, m Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, sender_id, body, priority, broadcast_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.ChannelID, m.SenderID, m.Body, m.Priority, m.BroadcastID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}
