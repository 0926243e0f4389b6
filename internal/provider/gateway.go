package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
)

// Gateway routes rendered content to the Deliverer registered for a channel.
type Gateway struct {
	mu         sync.RWMutex
	deliverers map[domain.Channel]Deliverer
	timeout    time.Duration
	logger     *zap.Logger
}

// NewGateway returns a Gateway that bounds each delivery by timeout.
// A zero timeout means no bound beyond the caller's context.
func NewGateway(timeout time.Duration, logger *zap.Logger) *Gateway {
	return &Gateway{
		deliverers: make(map[domain.Channel]Deliverer),
		timeout:    timeout,
		logger:     logger,
	}
}

// Register installs d for ch, replacing any previous Deliverer.
func (g *Gateway) Register(ch domain.Channel, d Deliverer) {
	g.mu.Lock()
	g.deliverers[ch] = d
	g.mu.Unlock()
}

// Channels lists the channels that currently have a Deliverer.
func (g *Gateway) Channels() []domain.Channel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.Channel, 0, len(g.deliverers))
	for ch := range g.deliverers {
		out = append(out, ch)
	}
	return out
}

// Deliver sends content to recipients over ch and reports the outcome.
// The returned result is filled in for both success and failure; Attempt is
// left for the caller. A deadline hit inside the gateway is transient.
func (g *Gateway) Deliver(ctx context.Context, ch domain.Channel, content string, recipients []string) (domain.DeliveryResult, error) {
	g.mu.RLock()
	d, ok := g.deliverers[ch]
	g.mu.RUnlock()

	if !ok {
		err := Permanent(fmt.Errorf("no deliverer registered for channel %q", ch))
		return failedResult(err), err
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := d.Deliver(callCtx, content, recipients)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("channel %s timed out after %s: %w", ch, g.timeout, err)
		}
		g.logger.Debug("delivery failed",
			zap.String("channel", string(ch)),
			zap.Bool("permanent", IsPermanent(err)),
			zap.Error(err),
		)
		return failedResult(err), err
	}

	return domain.DeliveryResult{
		Success:         true,
		ChannelResponse: resp.Summary,
		Timestamp:       time.Now().UTC(),
	}, nil
}

func failedResult(err error) domain.DeliveryResult {
	return domain.DeliveryResult{
		Success:   false,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}
}
