package broadcast

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pulse/internal/config"
	"pulse/internal/events"
	"pulse/internal/logger"
	"pulse/pkg/errors"
	"pulse/pkg/metrics"
)

const maxContentLength = 4000

// Dispatcher runs the broadcast pipeline: validate, authorize, resolve target
// channels, then either persist for later or fan out immediately.
type Dispatcher struct {
	channels   ChannelRepository
	roles      RoleRepository
	broadcasts BroadcastRepository
	messages   MessageRepository
	audience   *AudienceResolver
	push       PushGateway
	publisher  events.Publisher
	cfg        config.BroadcastConfig
	logger     logger.Logger
}

func NewDispatcher(
	channels ChannelRepository,
	roles RoleRepository,
	broadcasts BroadcastRepository,
	messages MessageRepository,
	audience *AudienceResolver,
	push PushGateway,
	publisher events.Publisher,
	cfg config.BroadcastConfig,
	lg logger.Logger,
) *Dispatcher {
	if push == nil {
		push = NopPushGateway{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Dispatcher{
		channels:   channels,
		roles:      roles,
		broadcasts: broadcasts,
		messages:   messages,
		audience:   audience,
		push:       push,
		publisher:  publisher,
		cfg:        cfg,
		logger:     lg,
	}
}

// Dispatch handles a new broadcast request end to end. Scheduled broadcasts are
// persisted and picked up later by the claim pass; immediate ones fan out now.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	now := time.Now().UTC()

	if err := validateRequest(req, now); err != nil {
		return nil, err
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}

	roleCtx, cancel := d.unitCtx(ctx)
	allowed, err := d.roles.HasBroadcastRole(roleCtx, req.WorkspaceID, req.SenderID)
	cancel()
	if err != nil {
		return nil, errors.ErrServiceUnavailable.WithCause(err).WithMessage("could not verify sender permissions")
	}
	if !allowed {
		return nil, errors.ErrForbidden.WithMessage("sender may not broadcast in this workspace")
	}

	channels, err := d.resolveChannels(ctx, req.WorkspaceID, req.ChannelIDs)
	if err != nil {
		return nil, err
	}

	b := Broadcast{
		ID:           uuid.NewString(),
		WorkspaceID:  req.WorkspaceID,
		SenderID:     req.SenderID,
		Content:      req.Content,
		Priority:     req.Priority,
		ChannelIDs:   channelIDs(channels),
		SendPush:     req.SendPush,
		Audience:     req.Audience,
		ScheduledFor: req.ScheduleFor,
		CreatedAt:    now,
	}

	insertCtx, cancel := d.unitCtx(ctx)
	err = d.broadcasts.Insert(insertCtx, b)
	cancel()
	if err != nil {
		return nil, errors.ErrInternal.WithCause(err).WithMessage("failed to persist broadcast")
	}

	if b.ScheduledFor != nil {
		metrics.BroadcastDispatchesTotal.WithLabelValues("scheduled").Inc()
		d.logger.InfowCtx(ctx, "Broadcast scheduled",
			"broadcast_id", b.ID,
			"workspace_id", b.WorkspaceID,
			"scheduled_for", b.ScheduledFor,
			"channels", len(channels),
		)
		return &DispatchResult{
			BroadcastID:      b.ID,
			Scheduled:        true,
			ScheduledFor:     b.ScheduledFor,
			ChannelsTargeted: len(channels),
			MessageResults:   []MessageResult{},
		}, nil
	}

	return d.fanOut(ctx, b, channels)
}

// DispatchScheduled delivers a previously persisted broadcast whose schedule
// has come due. The row already exists, so only the fan-out stage runs.
func (d *Dispatcher) DispatchScheduled(ctx context.Context, b Broadcast) (*DispatchResult, error) {
	channels, err := d.resolveChannels(ctx, b.WorkspaceID, b.ChannelIDs)
	if err != nil {
		return nil, err
	}
	return d.fanOut(ctx, b, channels)
}

// unitCtx bounds one store call so a hung connection fails that call instead
// of stalling the dispatch and every later claim pass behind it.
func (d *Dispatcher) unitCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.cfg.UnitTimeout)
}

func (d *Dispatcher) resolveChannels(ctx context.Context, workspaceID string, channelIDs []string) ([]Channel, error) {
	queryCtx, cancel := d.unitCtx(ctx)
	defer cancel()

	var channels []Channel
	var err error

	if len(channelIDs) > 0 {
		channels, err = d.channels.ByIDs(queryCtx, workspaceID, channelIDs)
	} else {
		channels, err = d.channels.ParticipantVisible(queryCtx, workspaceID)
	}
	if err != nil {
		return nil, errors.ErrInternal.WithCause(err).WithMessage("failed to resolve target channels")
	}
	if len(channels) == 0 {
		return nil, errors.ErrNotFound.WithMessage("no target channels found")
	}
	return channels, nil
}

// fanOut posts one message per channel in parallel, sends a single batched
// push, and records final stats. Partial channel failures do not abort the
// broadcast; they surface in the per-channel results.
func (d *Dispatcher) fanOut(ctx context.Context, b Broadcast, channels []Channel) (*DispatchResult, error) {
	sentAt := time.Now().UTC()

	results := make([]MessageResult, 0, len(channels))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.FanoutConcurrency)

	for _, ch := range channels {
		g.Go(func() error {
			msg := Message{
				ID:          uuid.NewString(),
				ChannelID:   ch.ID,
				SenderID:    b.SenderID,
				Body:        b.Content,
				Priority:    b.Priority,
				BroadcastID: b.ID,
				CreatedAt:   sentAt,
			}

			insertCtx, cancel := d.unitCtx(gCtx)
			err := d.messages.Insert(insertCtx, msg)
			cancel()

			res := MessageResult{ChannelID: ch.ID, Success: true}
			if err != nil {
				res.Success = false
				res.Error = err.Error()
				metrics.BroadcastChannelsTotal.WithLabelValues("error").Inc()
				d.logger.WarnwCtx(gCtx, "Failed to post broadcast message",
					"broadcast_id", b.ID,
					"channel_id", ch.ID,
					"error", err,
				)
			} else {
				metrics.BroadcastChannelsTotal.WithLabelValues("ok").Inc()
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].ChannelID < results[j].ChannelID })

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}

	pushRecipients := 0
	if b.SendPush {
		pushRecipients = d.sendPush(ctx, b, channels)
	}

	markCtx, cancel := d.unitCtx(ctx)
	defer cancel()
	if err := d.broadcasts.MarkSent(markCtx, b.ID, sentAt, len(channels), succeeded, pushRecipients); err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to record broadcast stats",
			"broadcast_id", b.ID,
			"error", err,
		)
	}

	status := "ok"
	if succeeded == 0 {
		status = "failed"
	} else if succeeded < len(channels) {
		status = "partial"
	}
	metrics.BroadcastDispatchesTotal.WithLabelValues(status).Inc()

	d.logger.InfowCtx(ctx, "Broadcast dispatched",
		"broadcast_id", b.ID,
		"workspace_id", b.WorkspaceID,
		"channels_targeted", len(channels),
		"channels_succeeded", succeeded,
		"push_recipients", pushRecipients,
	)

	if err := d.publisher.Publish(ctx, events.EngineEvent{
		Kind:        events.KindBroadcastDispatched,
		WorkspaceID: b.WorkspaceID,
		BroadcastID: b.ID,
		Channels:    len(channels),
		Recipients:  pushRecipients,
	}); err != nil {
		d.logger.WarnwCtx(ctx, "Failed to publish broadcast event",
			"broadcast_id", b.ID,
			"error", err,
		)
	}

	return &DispatchResult{
		BroadcastID:       b.ID,
		ChannelsTargeted:  len(channels),
		ChannelsSucceeded: succeeded,
		PushRecipients:    pushRecipients,
		MessageResults:    results,
	}, nil
}

// sendPush resolves the audience and sends one batched gateway call. Push
// failures never fail the broadcast; the in-channel messages already landed.
func (d *Dispatcher) sendPush(ctx context.Context, b Broadcast, channels []Channel) int {
	resolveCtx, cancel := d.unitCtx(ctx)
	recipients, err := d.audience.Resolve(resolveCtx, b.WorkspaceID, channelIDs(channels), b.Audience)
	cancel()
	if err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to resolve push audience",
			"broadcast_id", b.ID,
			"error", err,
		)
		return 0
	}
	if len(recipients) == 0 {
		return 0
	}

	batch := PushBatch{
		UserIDs:  recipients,
		Title:    pushTitle(b.Priority),
		Body:     truncate(b.Content, 200),
		Data:     map[string]string{"broadcast_id": b.ID, "workspace_id": b.WorkspaceID},
		Priority: b.Priority,
	}

	result, err := d.push.SendBatch(ctx, batch)
	if err != nil {
		d.logger.ErrorwCtx(ctx, "Push gateway batch failed",
			"broadcast_id", b.ID,
			"recipients", len(recipients),
			"error", err,
		)
		return 0
	}

	metrics.PushRecipientsTotal.Add(float64(result.Accepted))
	return result.Accepted
}

func validateRequest(req DispatchRequest, now time.Time) error {
	if req.WorkspaceID == "" {
		return errors.ErrValidation.WithMessage("workspace id is required")
	}
	if _, err := uuid.Parse(req.WorkspaceID); err != nil {
		return errors.ErrValidation.WithMessage("workspace id must be a valid UUID")
	}
	if req.Content == "" {
		return errors.ErrValidation.WithMessage("content is required")
	}
	if len(req.Content) > maxContentLength {
		return errors.ErrValidation.WithMessage(fmt.Sprintf("content exceeds %d characters", maxContentLength))
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return errors.ErrValidation.WithMessage(fmt.Sprintf("invalid priority %q", req.Priority))
	}
	for _, id := range req.ChannelIDs {
		if _, err := uuid.Parse(id); err != nil {
			return errors.ErrValidation.WithMessage(fmt.Sprintf("invalid channel id %q", id))
		}
	}
	if req.ScheduleFor != nil && !req.ScheduleFor.After(now) {
		return errors.ErrValidation.WithMessage("scheduleFor must be in the future")
	}
	return nil
}

func channelIDs(channels []Channel) []string {
	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ID
	}
	return ids
}

func pushTitle(p Priority) string {
	switch p {
	case PriorityUrgent:
		return "Urgent announcement"
	case PriorityImportant:
		return "Important announcement"
	}
	return "New announcement"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
