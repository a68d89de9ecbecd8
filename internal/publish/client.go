// Package publish submits canonical schedules to the aggregation server.
//
// The server deduplicates; a 409 for a schedule it already holds counts as
// success. The client never retries: the next scheduled run rebuilds and resubmits.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cankoe/obs-schedule-ingest/internal/models"
	"github.com/cankoe/obs-schedule-ingest/internal/transport"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Result string

const (
	ResultCreated       Result = "created"
	ResultAlreadyExists Result = "already_exists"
)

// StatusError is any non-success answer other than 409.
type StatusError struct {
	StatusCode int
	Body       string
	Schedule   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("publish schedule %q: unexpected status %d: %s", e.Schedule, e.StatusCode, e.Body)
}

type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// invalidator is implemented by token providers that can drop a rejected token.
type invalidator interface {
	Invalidate()
}

type Client struct {
	endpoint   string
	httpClient *http.Client
	tokens     TokenProvider
	logger     zerolog.Logger
}

// NewClient posts to <serverURL>/schedule.
func NewClient(serverURL string, httpClient *http.Client, tokens TokenProvider) *Client {
	if httpClient == nil {
		httpClient = transport.NewHTTPClient(0, "")
	}
	return &Client{
		endpoint:   strings.TrimRight(serverURL, "/") + "/schedule",
		httpClient: httpClient,
		tokens:     tokens,
		logger:     log.Logger,
	}
}

func (c *Client) WithLogger(logger zerolog.Logger) *Client {
	c.logger = logger
	return c
}

// Publish submits s once.
func (c *Client) Publish(ctx context.Context, s models.Schedule) (Result, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal schedule %q: %w", s.Name, err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("obtain token: %w", err)
	}

	requestID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &transport.Error{Op: "publish", URL: c.endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &transport.Error{Op: "publish", URL: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := transport.ReadBody(resp)
	if err != nil {
		return "", &transport.Error{Op: "publish", URL: c.endpoint, Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Info().Str("schedule", s.Name).Int("telescope_id", s.TelescopeID).
			Int("observations", len(s.Observations)).Str("request_id", requestID).
			Msg("Schedule published")
		return ResultCreated, nil
	case resp.StatusCode == http.StatusConflict:
		c.logger.Info().Str("schedule", s.Name).Int("telescope_id", s.TelescopeID).
			Str("request_id", requestID).
			Msg("Schedule already exists on server, treating as published")
		return ResultAlreadyExists, nil
	case resp.StatusCode == http.StatusUnauthorized:
		if inv, ok := c.tokens.(invalidator); ok {
			inv.Invalidate()
		}
	}

	return "", &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(respBody)),
		Schedule:   s.Name,
	}
}
