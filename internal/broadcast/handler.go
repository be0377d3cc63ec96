package broadcast

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pulse/internal/logger"
	"pulse/pkg/errors"
)

type Handler struct {
	dispatcher *Dispatcher
	logger     logger.Logger
}

func NewHandler(dispatcher *Dispatcher, lg logger.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		logger:     lg,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/broadcasts", h.SendBroadcast)
	}
}

// sendBroadcastRequest is the wire shape. Older clients send eventId where
// newer ones send workspaceId; both name the same scope.
type sendBroadcastRequest struct {
	EventID     string          `json:"eventId"`
	WorkspaceID string          `json:"workspaceId"`
	ChannelIDs  []string        `json:"channelIds"`
	Content     string          `json:"content"`
	Priority    string          `json:"priority"`
	SendPush    bool            `json:"sendPush"`
	ScheduleFor *time.Time      `json:"scheduleFor"`
	Audience    *AudienceFilter `json:"targetAudience"`
}

func (h *Handler) SendBroadcast(c *gin.Context) {
	senderID := c.GetHeader("X-User-ID")
	if senderID == "" {
		err := errors.ErrUnauthorized.WithMessage("missing X-User-ID header")
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}

	var req sendBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.ErrValidation.WithCause(err).WithMessage("invalid request body")
		c.JSON(errors.ToHTTPStatus(appErr), errors.ToErrorResponse(appErr))
		return
	}

	workspaceID := req.WorkspaceID
	if workspaceID == "" {
		workspaceID = req.EventID
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), DispatchRequest{
		WorkspaceID: workspaceID,
		SenderID:    senderID,
		ChannelIDs:  req.ChannelIDs,
		Content:     req.Content,
		Priority:    Priority(req.Priority),
		SendPush:    req.SendPush,
		ScheduleFor: req.ScheduleFor,
		Audience:    req.Audience,
	})
	if err != nil {
		if errors.ToHTTPStatus(err) >= http.StatusInternalServerError {
			h.logger.ErrorwCtx(c.Request.Context(), "Broadcast dispatch failed",
				"workspace_id", workspaceID,
				"error", err,
			)
		}
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}

	if result.Scheduled {
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"scheduled":    true,
			"broadcastId":  result.BroadcastID,
			"scheduledFor": result.ScheduledFor,
			"channelCount": result.ChannelsTargeted,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"broadcastId":      result.BroadcastID,
		"channelsTargeted": result.ChannelsTargeted,
		"channelsSuccess":  result.ChannelsSucceeded,
		"pushRecipients":   result.PushRecipients,
		"messageResults":   result.MessageResults,
	})
}
