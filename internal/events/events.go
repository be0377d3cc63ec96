package events

import (
	"context"
	"time"
)

type Kind string

const (
	KindRuleFired           Kind = "rule_fired"
	KindBroadcastDispatched Kind = "broadcast_dispatched"
)

// EngineEvent is the wire shape published to the event topic whenever the engine
// fires a rule action or dispatches a broadcast. Consumers are external; the
// engine only produces.
type EngineEvent struct {
	Kind        Kind      `json:"kind"`
	WorkspaceID string    `json:"workspace_id"`
	RuleID      string    `json:"rule_id,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	BroadcastID string    `json:"broadcast_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Channels    int       `json:"channels,omitempty"`
	Recipients  int       `json:"recipients,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, event EngineEvent) error
	Close() error
}

// NopPublisher is used when no broker is configured and in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event EngineEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
