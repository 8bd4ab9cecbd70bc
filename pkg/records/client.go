// Package records talks to the records collaborator: the external system
// that owns protocols (per subject and period) and their entries.
package records

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"

	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/metrics"
	"github.com/damian-sirenko/signq/pkg/model"
)

const entryPath = "/protocols/{subject}/{period}/{index}"

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries uint64
	RetryBase  time.Duration
}

// APIError is a non-2xx answer from the collaborator.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("records: %s: %d %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("records: %s: status %d", e.Op, e.Status)
}

func newAPIError(op string, resp *resty.Response) *APIError {
	msg := gjson.GetBytes(resp.Body(), "error").String()
	return &APIError{Op: op, Status: resp.StatusCode(), Message: msg}
}

type Client struct {
	http       *resty.Client
	maxRetries uint64
	retryBase  time.Duration
	logger     logger.Logger
}

type Option func(*Client)

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		h.SetAuthToken(cfg.Token)
	}
	c := &Client{
		http:       h,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		logger:     logger.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) backoff() retry.Backoff {
	return retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryBase))
}

// call runs one request with retries. Transport errors and 5xx answers are
// retried; 4xx answers fail at once.
func (c *Client) call(ctx context.Context, op string, send func(*resty.Request) (*resty.Response, error)) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		resp, err := send(c.http.R().SetContext(ctx))
		if err != nil {
			c.logger.Debug("records request failed", "op", op, "err", err)
			return retry.RetryableError(fmt.Errorf("records: %s: %w", op, err))
		}
		if resp.StatusCode() >= 500 {
			return retry.RetryableError(newAPIError(op, resp))
		}
		if resp.IsError() {
			return newAPIError(op, resp)
		}
		body = resp.Body()
		return nil
	})
	return body, err
}

func (c *Client) mutate(ctx context.Context, op string, send func(*resty.Request) (*resty.Response, error)) error {
	_, err := c.call(ctx, op, send)
	metrics.Mutations.WithLabelValues(op, metrics.Outcome(err)).Inc()
	if err != nil {
		c.logger.Warn("records mutation failed", "op", op, "err", err)
	}
	return err
}

func keyParams(k model.Key) map[string]string {
	return map[string]string{
		"subject": k.SubjectID,
		"period":  string(k.Period),
		"index":   strconv.Itoa(k.Index),
	}
}

// Patch is a partial update of one entry. Nil fields are left untouched; a
// pointer to a zero Date clears the field.
type Patch struct {
	Date               *model.Date  `json:"date,omitempty"`
	ReturnDate         *model.Date  `json:"returnDate,omitempty"`
	Tools              []model.Tool `json:"tools,omitempty"`
	Packages           *int         `json:"packages,omitempty"`
	Comment            *string      `json:"comment,omitempty"`
	CourierPlannedDate *model.Date  `json:"courierPlannedDate,omitempty"`
}

func (c *Client) Patch(ctx context.Context, k model.Key, p Patch) error {
	return c.mutate(ctx, "patch", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParams(keyParams(k)).SetBody(p).Patch(entryPath)
	})
}

// Sign attaches a signature reference for role on leg.
func (c *Client) Sign(ctx context.Context, k model.Key, leg model.Leg, role model.Role, ref string) error {
	body := map[string]any{"leg": leg, string(role): ref}
	return c.mutate(ctx, "sign", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParams(keyParams(k)).SetBody(body).Post(entryPath + "/sign")
	})
}

// SignDefaultStaff asks the collaborator to apply its stored staff signature.
func (c *Client) SignDefaultStaff(ctx context.Context, k model.Key, leg model.Leg) error {
	body := map[string]any{"leg": leg, "useDefaultStaff": true}
	return c.mutate(ctx, "sign", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParams(keyParams(k)).SetBody(body).Post(entryPath + "/sign")
	})
}

func (c *Client) Unsign(ctx context.Context, k model.Key, leg model.Leg, role model.Role) error {
	body := map[string]any{"leg": leg, "who": role}
	return c.mutate(ctx, "unsign", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParams(keyParams(k)).SetBody(body).Delete(entryPath + "/sign")
	})
}

// SetPending sets the queue membership flag of typ on one entry.
func (c *Client) SetPending(ctx context.Context, k model.Key, typ model.Type, pending bool) error {
	body := map[string]any{"type": typ, "pending": pending}
	return c.mutate(ctx, "queue", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParams(keyParams(k)).SetBody(body).Post(entryPath + "/queue")
	})
}

// Clients returns the raw client list, used for display names.
func (c *Client) Clients(ctx context.Context) ([]byte, error) {
	return c.call(ctx, "clients", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/clients")
	})
}
