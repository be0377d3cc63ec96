package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pulse/internal/config"
	"pulse/internal/constants"
	"pulse/internal/logger"
	"pulse/pkg/circuitbreaker"
	"pulse/pkg/metrics"
	"pulse/pkg/retry"
)

// PushBatch is one batched delivery request to the push gateway. The gateway
// handles per-device fan-out; the engine only supplies user IDs.
type PushBatch struct {
	UserIDs  []string          `json:"user_ids"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority Priority          `json:"priority"`
}

type PushResult struct {
	Accepted int `json:"accepted"`
}

type PushGateway interface {
	SendBatch(ctx context.Context, batch PushBatch) (*PushResult, error)
}

// NopPushGateway accepts every batch without delivering anything. Used when no
// gateway URL is configured.
type NopPushGateway struct{}

func (NopPushGateway) SendBatch(_ context.Context, batch PushBatch) (*PushResult, error) {
	return &PushResult{Accepted: len(batch.UserIDs)}, nil
}

type HTTPPushGateway struct {
	baseURL string
	client  *http.Client
	policy  retry.Policy
	breaker *circuitbreaker.Wrapper
	logger  logger.Logger
}

func NewHTTPPushGateway(cfg config.PushConfig, breaker *circuitbreaker.Wrapper, lg logger.Logger) *HTTPPushGateway {
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	return &HTTPPushGateway{
		baseURL: cfg.GatewayURL,
		client:  &http.Client{Timeout: timeout},
		policy:  policy,
		breaker: breaker,
		logger:  lg,
	}
}

// SendBatch posts the batch to the gateway. Server-side failures are retried
// under the gateway policy; 4xx responses are not, since resending the same
// payload cannot succeed.
func (g *HTTPPushGateway) SendBatch(ctx context.Context, batch PushBatch) (*PushResult, error) {
	if len(batch.UserIDs) == 0 {
		return &PushResult{}, nil
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push batch: %w", err)
	}

	start := time.Now()
	var result *PushResult

	retryErr := retry.RetryWithCallback(ctx, g.policy, func() error {
		var sendErr error
		result, sendErr = g.doSend(ctx, payload)
		return sendErr
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("push_gateway").Inc()
		g.logger.WarnwCtx(ctx, "Push gateway call failed, retrying",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})

	if retryErr != nil {
		metrics.ObservePushGatewayDuration(time.Since(start), "error")
		return nil, retryErr
	}

	metrics.ObservePushGatewayDuration(time.Since(start), "ok")
	return result, nil
}

func (g *HTTPPushGateway) doSend(ctx context.Context, payload []byte) (*PushResult, error) {
	call := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/push/batch", bytes.NewReader(payload))
		if err != nil {
			return nil, retry.NewFatalError(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("push gateway request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("failed to read push gateway response: %w", err)
		}

		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, body)
		case resp.StatusCode >= 400:
			return nil, retry.NewFatalError(fmt.Errorf("push gateway rejected batch with %d: %s", resp.StatusCode, body))
		}

		var result PushResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, retry.NewFatalError(fmt.Errorf("failed to decode push gateway response: %w", err))
		}
		return &result, nil
	}

	var raw interface{}
	var err error
	if g.breaker != nil {
		raw, err = g.breaker.ExecuteWithContext(ctx, call)
	} else {
		raw, err = call()
	}
	if err != nil {
		return nil, err
	}
	return raw.(*PushResult), nil
}
