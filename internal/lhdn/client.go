/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package lhdn is the client for the MyInvois document submission API.
package lhdn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blnkfinance/einvoice/config"
	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/internal/request"
	"github.com/blnkfinance/einvoice/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	apiPrefix = "/api/v1.0"

	HeaderRateLimitReset = "X-Rate-Limit-Reset"
	HeaderRetryAfter     = "Retry-After"

	pollPageSize = 100
)

var tracer = otel.Tracer("einvoice.lhdn")

// API is the set of authority operations the engine depends on.
type API interface {
	Submit(ctx context.Context, token string, docs []model.DocumentSubmission) (*model.SubmissionResponse, error)
	GetSubmission(ctx context.Context, token, submissionUID string) (*model.SubmissionDetails, error)
	PollSubmission(ctx context.Context, token, submissionUID string) (*model.SubmissionDetails, error)
	Cancel(ctx context.Context, token, uuid, reason string) (*model.CancelResponse, error)
	DocumentDetails(ctx context.Context, token, uuid string) (map[string]interface{}, error)
}

type Client struct {
	baseURL          string
	httpClient       *http.Client
	maxAttempts      int
	defaultWait      time.Duration
	pollInitialDelay time.Duration
	pollMaxInterval  time.Duration
	pollMaxRetries   uint64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleep replaces the wait used between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(cfg config.LHDNConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:       &http.Client{Timeout: cfg.Timeout},
		maxAttempts:      cfg.MaxAttempts,
		defaultWait:      cfg.DefaultRateLimitWait,
		pollInitialDelay: cfg.PollInitialDelay,
		pollMaxInterval:  cfg.PollMaxInterval,
		pollMaxRetries:   cfg.PollMaxRetries,
		now:              time.Now,
		sleep:            sleepContext,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 5
	}
	if c.defaultWait <= 0 {
		c.defaultWait = time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submit posts the documents of one submission.
func (c *Client) Submit(ctx context.Context, token string, docs []model.DocumentSubmission) (*model.SubmissionResponse, error) {
	ctx, span := tracer.Start(ctx, "lhdn.Submit")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(docs)))

	var out model.SubmissionResponse
	if err := c.do(ctx, http.MethodPost, "/documentsubmissions", token, model.SubmissionRequest{Documents: docs}, &out); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &out, nil
}

// GetSubmission fetches the current state of a submission.
func (c *Client) GetSubmission(ctx context.Context, token, submissionUID string) (*model.SubmissionDetails, error) {
	q := url.Values{}
	q.Set("pageNo", "1")
	q.Set("pageSize", strconv.Itoa(pollPageSize))
	var out model.SubmissionDetails
	path := "/documentsubmissions/" + url.PathEscape(submissionUID) + "?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollSubmission waits for the authority to finish validating a submission. It waits
// the initial delay, then retries with exponential backoff capped at the configured
// interval, giving up after the configured number of retries with the last seen state.
func (c *Client) PollSubmission(ctx context.Context, token, submissionUID string) (*model.SubmissionDetails, error) {
	ctx, span := tracer.Start(ctx, "lhdn.PollSubmission")
	defer span.End()

	if err := c.sleep(ctx, c.pollInitialDelay); err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollMaxInterval / 2
	b.MaxInterval = c.pollMaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithMaxRetries(b, c.pollMaxRetries)

	var last *model.SubmissionDetails
	for attempt := 1; ; attempt++ {
		details, err := c.GetSubmission(ctx, token, submissionUID)
		if err != nil {
			return last, err
		}
		last = details
		logrus.WithFields(logrus.Fields{
			"submission_uid": submissionUID,
			"status":         details.OverallStatus,
			"attempt":        attempt,
		}).Debug("polled submission")
		if details.Terminal() {
			return details, nil
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return last, apierror.NewAPIError(apierror.ErrSystem,
				fmt.Sprintf("submission %s still in progress after %d polls", submissionUID, attempt), details)
		}
		if err := c.sleep(ctx, wait); err != nil {
			return last, err
		}
	}
}

type cancelRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Cancel asks the authority to cancel a submitted document.
func (c *Client) Cancel(ctx context.Context, token, uuid, reason string) (*model.CancelResponse, error) {
	ctx, span := tracer.Start(ctx, "lhdn.Cancel")
	defer span.End()

	var out model.CancelResponse
	path := "/documents/state/" + url.PathEscape(uuid) + "/state"
	if err := c.do(ctx, http.MethodPut, path, token, cancelRequest{Status: "cancelled", Reason: reason}, &out); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &out, nil
}

// DocumentDetails returns the authority's validation details of a document.
func (c *Client) DocumentDetails(ctx context.Context, token, uuid string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(uuid)+"/details", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do performs one API call. 429 responses wait for the server's reset hint, 5xx and
// transport failures back off exponentially; both are bounded by maxAttempts.
func (c *Client) do(ctx context.Context, method, path, token string, payload, out interface{}) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.defaultWait
	b.MaxElapsedTime = 0
	b.Reset()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req, err := request.NewJSONRequest(ctx, method, c.baseURL+apiPrefix+path, token, payload)
		if err != nil {
			return err
		}

		resp, body, err := request.Do(c.httpClient, req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = apierror.NewAPIError(apierror.ErrSystem, "LHDN is unreachable", err.Error())
			if err := c.wait(ctx, b.NextBackOff(), method, path, attempt, lastErr); err != nil {
				return err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = apierror.NewAPIError(apierror.ErrRateLimit, "LHDN rate limit reached", resp.Header.Get(HeaderRateLimitReset))
			if err := c.wait(ctx, c.rateLimitWait(resp.Header), method, path, attempt, lastErr); err != nil {
				return err
			}
			continue
		case resp.StatusCode >= 500:
			lastErr = apierror.NewAPIError(apierror.ErrSystem,
				fmt.Sprintf("LHDN system error (HTTP %d), try again later", resp.StatusCode), parseAuthorityError(body))
			if err := c.wait(ctx, b.NextBackOff(), method, path, attempt, lastErr); err != nil {
				return err
			}
			continue
		case resp.StatusCode >= 400:
			return mapClientError(resp.StatusCode, body)
		}

		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return apierror.NewAPIError(apierror.ErrSystem, "unreadable LHDN response", err.Error())
		}
		return nil
	}
	return lastErr
}

func (c *Client) wait(ctx context.Context, d time.Duration, method, path string, attempt int, cause error) error {
	if attempt >= c.maxAttempts {
		return nil
	}
	logrus.WithFields(logrus.Fields{
		"method":  method,
		"path":    path,
		"attempt": attempt,
		"wait":    d.String(),
	}).Warn(cause.Error())
	return c.sleep(ctx, d)
}

// rateLimitWait returns the time until the reset instant the server announced, or
// the Retry-After delay, or the default wait.
func (c *Client) rateLimitWait(h http.Header) time.Duration {
	if v := h.Get(HeaderRateLimitReset); v != "" {
		if reset, err := time.Parse(time.RFC3339, v); err == nil {
			if d := reset.Sub(c.now()); d > 0 {
				return d
			}
			return 0
		}
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			if secs > 1e9 {
				if d := time.Unix(secs, 0).Sub(c.now()); d > 0 {
					return d
				}
				return 0
			}
			return time.Duration(secs) * time.Second
		}
	}
	if v := h.Get(HeaderRetryAfter); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(c.now()); d > 0 {
				return d
			}
			return 0
		}
	}
	return c.defaultWait
}
