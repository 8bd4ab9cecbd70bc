// Package legacy reads and writes the older sign queue file: a top-level
// JSON array of items whose display fields live under "entry".
package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/store"
)

var ErrNotFound = errors.New("legacy: item not found")

const StatusQueued = "queued"

type Item struct {
	ID          string          `json:"id"`
	Type        model.Type      `json:"type"`
	ClientID    string          `json:"clientId"`
	ClientName  string          `json:"clientName"`
	Month       model.Period    `json:"month"`
	Index       int             `json:"index"`
	Entry       json.RawMessage `json:"entry"`
	PlannedDate model.Date      `json:"plannedDate"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (it Item) Key() model.Key {
	return model.Key{Type: it.Type, SubjectID: it.ClientID, Period: it.Month, Index: it.Index}
}

type EnqueueRequest struct {
	model.Key
	ClientName  string          `json:"clientName"`
	Entry       json.RawMessage `json:"entry"`
	PlannedDate model.Date      `json:"plannedDate"`
}

type Queue struct {
	fs     afero.Fs
	path   string
	now    func() time.Time
	logger logger.Logger

	mu sync.Mutex
}

type Option func(*Queue)

func WithFs(fsys afero.Fs) Option {
	return func(q *Queue) {
		if fsys != nil {
			q.fs = fsys
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func New(path string, opts ...Option) *Queue {
	q := &Queue{
		fs:     afero.NewOsFs(),
		path:   path,
		now:    time.Now,
		logger: logger.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// read returns every item. A missing or unreadable file is an empty queue;
// items that fail to decode are skipped.
func (q *Queue) read() []Item {
	raws := q.readRaw()
	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		var it Item
		if err := json.Unmarshal(raw, &it); err != nil {
			q.logger.Debug("skipping undecodable legacy item", "err", err)
			continue
		}
		items = append(items, it)
	}
	return items
}

func (q *Queue) readRaw() []json.RawMessage {
	data, err := afero.ReadFile(q.fs, q.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			q.logger.Warn("legacy queue unreadable, treating as empty", "path", q.path, "err", err)
		}
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		q.logger.Warn("legacy queue corrupt, treating as empty", "path", q.path, "err", err)
		return nil
	}
	return raws
}

func (q *Queue) write(items []Item) error {
	if items == nil {
		items = []Item{}
	}
	if err := q.fs.MkdirAll(filepath.Dir(q.path), 0o700); err != nil {
		return fmt.Errorf("legacy: create directory: %w", err)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("legacy: encode: %w", err)
	}
	if err := afero.WriteFile(q.fs, q.path, data, 0o600); err != nil {
		return fmt.Errorf("legacy: write %s: %w", q.path, err)
	}
	return nil
}

func matches(it Item, typ model.Type, period model.Period) bool {
	return (typ == "" || it.Type == typ) && (period == "" || it.Month == period)
}

func (q *Queue) List(_ context.Context, typ model.Type, period model.Period) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Item
	for _, it := range q.read() {
		if matches(it, typ, period) {
			out = append(out, it)
		}
	}
	return out
}

// rawKey is the loose view of an item used to filter raw records. Both
// fields may arrive as any JSON scalar.
type rawKey struct {
	Type  json.RawMessage `json:"type"`
	Month json.RawMessage `json:"month"`
}

func scalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

// Raw returns matching items as raw JSON records, each tagged with the
// pending flag implied by its type. Items are passed through byte for byte
// otherwise; malformed fields are left for the normalizer to judge.
func (q *Queue) Raw(_ context.Context, typ model.Type, period model.Period) ([][]byte, error) {
	q.mu.Lock()
	raws := q.readRaw()
	q.mu.Unlock()

	var out [][]byte
	for _, raw := range raws {
		var rk rawKey
		if err := json.Unmarshal(raw, &rk); err != nil {
			q.logger.Debug("skipping non-object legacy item", "err", err)
			continue
		}
		itemType, _ := model.ParseType(scalar(rk.Type))
		if typ != "" && itemType != typ {
			continue
		}
		if period != "" {
			if p, err := model.ParsePeriod(scalar(rk.Month)); err != nil || p != period {
				continue
			}
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		fields["pointPending"] = json.RawMessage(strconv.FormatBool(itemType == model.Point))
		fields["courierPending"] = json.RawMessage(strconv.FormatBool(itemType == model.Courier))
		tagged, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("legacy: encode item: %w", err)
		}
		out = append(out, tagged)
	}
	return out, nil
}

// Enqueue appends a new item. Like the file it replaces, it does not look
// for an existing item with the same key.
func (q *Queue) Enqueue(_ context.Context, req EnqueueRequest) (Item, error) {
	req.Key = store.Canonical(req.Key)
	if err := store.Validate(req.Key); err != nil {
		return Item{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	entry := req.Entry
	if len(entry) == 0 {
		entry = json.RawMessage(`{}`)
	}
	it := Item{
		ID:          fmt.Sprintf("%s:%s:%s:%d:%d", req.Type, req.SubjectID, req.Period, req.Index, now.UnixMilli()),
		Type:        req.Type,
		ClientID:    req.SubjectID,
		ClientName:  req.ClientName,
		Month:       req.Period,
		Index:       req.Index,
		Entry:       entry,
		PlannedDate: req.PlannedDate,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	items := append(q.read(), it)
	return it, q.write(items)
}

// UpdatePlanned sets the planned date of the first item with key k.
func (q *Queue) UpdatePlanned(_ context.Context, k model.Key, planned model.Date) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.read()
	for i := range items {
		if items[i].Key() != k {
			continue
		}
		if !planned.IsZero() {
			items[i].PlannedDate = planned
		}
		items[i].UpdatedAt = q.now().UTC()
		return items[i], q.write(items)
	}
	return Item{}, fmt.Errorf("%w: %s", ErrNotFound, k)
}

// Dequeue drops every item with key k and returns how many items remain.
func (q *Queue) Dequeue(_ context.Context, k model.Key) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.read()
	kept := items[:0]
	for _, it := range items {
		if it.Key() != k {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(items) {
		return len(items), fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	return len(kept), q.write(kept)
}

func (q *Queue) Clear(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.write(nil)
}
