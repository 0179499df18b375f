package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hearthside/household-scheduler/internal/domain"
)

// Client is the HTTP implementation of Service. Every call is bounded by the
// configured timeout; failures come back wrapped in ErrExternalService so
// callers can degrade instead of propagating them.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: c}
}

func (c *Client) EnrichEvent(ctx context.Context, in EventInput) (EventEnrichment, error) {
	var out EventEnrichment
	err := c.post(ctx, "/v1/enrich/event", in, &out)
	return out, err
}

func (c *Client) EnhanceTaskToEvent(ctx context.Context, task domain.Task) (TaskEnhancement, error) {
	var out TaskEnhancement
	err := c.post(ctx, "/v1/enrich/task", taskPayload(task), &out)
	return out, err
}

func (c *Client) SuggestEventFromTask(ctx context.Context, task domain.Task) (EventSuggestion, error) {
	var out EventSuggestion
	err := c.post(ctx, "/v1/suggest/event", taskPayload(task), &out)
	return out, err
}

func (c *Client) SuggestFollowUps(ctx context.Context, task domain.Task) ([]FollowUpSuggestion, error) {
	var out []FollowUpSuggestion
	err := c.post(ctx, "/v1/suggest/follow-ups", taskPayload(task), &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		Post(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExternalService, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: enrichment returned status %d", domain.ErrExternalService, resp.StatusCode())
	}
	return nil
}

func taskPayload(task domain.Task) map[string]any {
	return map[string]any{
		"title":       task.Title,
		"description": task.Description,
		"category":    task.Category,
		"priority":    task.Priority,
		"dueDate":     task.DueDate,
	}
}
