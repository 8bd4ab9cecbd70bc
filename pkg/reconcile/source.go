package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/damian-sirenko/signq/pkg/legacy"
	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/store"
)

const (
	TierStore   = "store"
	TierLegacy  = "legacy"
	TierRecords = "records"
)

type Request struct {
	Type   model.Type
	Period model.Period
}

// Source is one reconciliation tier. Fetch returns raw, un-normalized
// records for the request.
type Source interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([][]byte, error)
}

// StoreSource reads the local Task Store.
type StoreSource struct {
	Store *store.Store
}

func (StoreSource) Name() string { return TierStore }

func (s StoreSource) Fetch(ctx context.Context, req Request) ([][]byte, error) {
	return s.Store.Raw(ctx, store.Filter{Type: req.Type, Period: req.Period})
}

// LegacySource reads the legacy queue file.
type LegacySource struct {
	Queue *legacy.Queue
}

func (LegacySource) Name() string { return TierLegacy }

func (s LegacySource) Fetch(ctx context.Context, req Request) ([][]byte, error) {
	return s.Queue.Raw(ctx, req.Type, req.Period)
}

// PendingQuerier is the part of the records adapter used by Tier C.
type PendingQuerier interface {
	QueryPending(ctx context.Context, typ model.Type, period model.Period) ([][]byte, error)
}

// RecordsSource derives the queue from the records collaborator.
type RecordsSource struct {
	Records PendingQuerier
}

func (RecordsSource) Name() string { return TierRecords }

func (s RecordsSource) Fetch(ctx context.Context, req Request) ([][]byte, error) {
	return s.Records.QueryPending(ctx, req.Type, req.Period)
}

// HTTPSource queries a remote queue endpoint. The answer is either a bare
// array or an object with an "items" array.
type HTTPSource struct {
	name string
	path string
	http *resty.Client
}

func NewHTTPSource(name, baseURL, path string, timeout time.Duration) *HTTPSource {
	h := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		h.SetTimeout(timeout)
	}
	return &HTTPSource{name: name, path: path, http: h}
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Fetch(ctx context.Context, req Request) ([][]byte, error) {
	params := map[string]string{"type": string(req.Type)}
	if req.Period != "" {
		params["month"] = string(req.Period)
	}
	resp, err := s.http.R().SetContext(ctx).SetQueryParams(params).Get(s.path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s: status %d", s.name, resp.StatusCode())
	}
	return splitItems(resp.Body())
}

func splitItems(body []byte) ([][]byte, error) {
	doc := gjson.ParseBytes(body)
	if items := doc.Get("items"); doc.IsObject() && items.IsArray() {
		doc = items
	}
	if !doc.IsArray() {
		return nil, fmt.Errorf("unexpected queue payload")
	}
	var out [][]byte
	for _, it := range doc.Array() {
		out = append(out, []byte(it.Raw))
	}
	return out, nil
}
