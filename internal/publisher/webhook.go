// Package publisher provides executors that deliver publishing actions to
// the downstream publishing endpoint.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/bloomfeed/publish-queue/internal/domain"
	"github.com/bloomfeed/publish-queue/internal/queue"
)

// Config holds webhook publisher configuration.
type Config struct {
	// Endpoint receives one POST per action; the action type is appended
	// to the path, e.g. <endpoint>/publish_post.
	Endpoint string
	// RateLimit is the sustained request rate towards the endpoint, with
	// Burst allowed on top. Zero disables limiting.
	RateLimit float64
	Burst     int
}

// Webhook delivers a single action type to the downstream endpoint over
// HTTP. One instance is registered per action type; instances created by
// New share a rate limiter so the downstream ceiling holds across types.
type Webhook struct {
	action  domain.ActionType
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

// New creates one webhook executor per supported action type, sharing a
// single HTTP client and rate limiter.
func New(config Config, client *http.Client) ([]queue.Executor, error) {
	if config.Endpoint == "" {
		return nil, errors.New("webhook publisher: endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	slog.Info("webhook publisher configured",
		"endpoint", config.Endpoint,
		"rate_limit", config.RateLimit,
	)

	executors := make([]queue.Executor, 0, len(domain.ActionTypes()))
	for _, action := range domain.ActionTypes() {
		executors = append(executors, &Webhook{
			action:  action,
			config:  config,
			client:  client,
			limiter: limiter,
		})
	}
	return executors, nil
}

// ActionType returns the action type this executor handles.
func (p *Webhook) ActionType() domain.ActionType {
	return p.action
}

// Execute posts the payload to the publishing endpoint and classifies the
// outcome by response status.
func (p *Webhook) Execute(ctx context.Context, payload json.RawMessage) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return queue.NewClassifiedError(fmt.Errorf("rate limiter: %w", err), queue.CategoryTransient)
	}

	url := p.config.Endpoint + "/" + string(p.action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return queue.NewClassifiedError(fmt.Errorf("build request: %w", err), queue.CategoryPermanent)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return queue.NewClassifiedError(fmt.Errorf("post to endpoint: %w", err), queue.CategoryTransient)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	return queue.NewClassifiedError(err, classifyStatus(resp.StatusCode))
}

// classifyStatus maps an HTTP response status to a failure category.
func classifyStatus(status int) queue.Category {
	switch {
	case status == http.StatusTooManyRequests:
		return queue.CategoryRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return queue.CategoryAuth
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return queue.CategoryValidation
	case status >= 500:
		return queue.CategoryTransient
	default:
		return queue.CategoryPermanent
	}
}
