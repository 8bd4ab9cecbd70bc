// Package store persists the authoritative sign queue: a single JSON
// document {"items": [...]} keyed by type, subject, period and index.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/model"
)

// Record is one stored queue entry. Display fields are best effort and may
// lag behind the records collaborator.
type Record struct {
	K           string           `json:"k"`
	Type        model.Type       `json:"type"`
	ClientID    string           `json:"clientId"`
	Month       model.Period     `json:"month"`
	Index       int              `json:"index"`
	PlannedDate model.Date       `json:"plannedDate"`
	Date        model.Date       `json:"date"`
	ReturnDate  model.Date       `json:"returnDate"`
	Tools       []model.Tool     `json:"tools"`
	Packages    int              `json:"packages"`
	Delivery    *string          `json:"delivery"`
	Shipping    bool             `json:"shipping"`
	Comment     string           `json:"comment"`
	Signatures  model.Signatures `json:"signatures"`
}

func (r Record) Key() model.Key {
	return model.Key{Type: r.Type, SubjectID: r.ClientID, Period: r.Month, Index: r.Index}
}

// Entry is the input of Upsert.
type Entry struct {
	model.Key
	PlannedDate model.Date `json:"plannedDate"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Type   model.Type
	Period model.Period
}

// document keeps items as raw JSON so fields this package does not know
// about survive a rewrite.
type document struct {
	Items []json.RawMessage `json:"items"`
}

// itemKey is the subset of an item needed to match it.
type itemKey struct {
	K        string          `json:"k"`
	Type     model.Type      `json:"type"`
	ClientID json.RawMessage `json:"clientId"`
	Month    string          `json:"month"`
	Index    json.RawMessage `json:"index"`
}

func (ik itemKey) id() string {
	if ik.K != "" {
		return ik.K
	}
	return fmt.Sprintf("%s::%s::%s", unquote(ik.ClientID), ik.Month, unquote(ik.Index))
}

func unquote(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Store is safe for concurrent use. Every read-modify-write cycle holds an
// in-process mutex and, on the OS filesystem, an advisory file lock so that
// several processes sharing the file do not lose each other's updates.
type Store struct {
	fs     afero.Fs
	path   string
	lock   *flock.Flock
	logger logger.Logger

	mu sync.Mutex
}

type Option func(*Store)

func WithFs(fsys afero.Fs) Option {
	return func(s *Store) {
		if fsys != nil {
			s.fs = fsys
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// DefaultPath is ~/.config/signq/sign_queue.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "signq", "sign_queue.json"), nil
}

func New(path string, opts ...Option) *Store {
	s := &Store{
		fs:     afero.NewOsFs(),
		path:   path,
		logger: logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := s.fs.(*afero.OsFs); ok {
		s.lock = flock.New(path + ".lock")
	}
	return s
}

func (s *Store) Path() string { return s.path }

func (s *Store) acquire(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if s.lock == nil {
		return s.mu.Unlock, nil
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	locked, err := s.lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil || !locked {
		s.mu.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("store: lock %s: %w", s.lock.Path(), err)
	}
	return func() {
		_ = s.lock.Unlock()
		s.mu.Unlock()
	}, nil
}

// load reads the document, creating an empty one when the file is absent.
// A corrupt document is reported as a warning and treated as empty.
func (s *Store) load() (*document, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			doc := &document{Items: []json.RawMessage{}}
			return doc, s.save(doc)
		}
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil || doc.Items == nil {
		s.logger.Warn("sign queue file unreadable, treating as empty", "path", s.path, "err", err)
		return &document{Items: []json.RawMessage{}}, nil
	}
	return &doc, nil
}

func (s *Store) save(doc *document) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("store: create directory: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("store: write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return nil
}

func matches(ik itemKey, f Filter) bool {
	return (f.Type == "" || ik.Type == f.Type) && (f.Period == "" || model.Period(ik.Month) == f.Period)
}

// Raw returns the matching items exactly as stored.
func (s *Store) Raw(ctx context.Context, f Filter) ([][]byte, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, item := range doc.Items {
		var ik itemKey
		if err := json.Unmarshal(item, &ik); err != nil {
			continue
		}
		if matches(ik, f) {
			out = append(out, item)
		}
	}
	return out, nil
}

// List returns the matching records in insertion order. Items that cannot
// be decoded into a Record are skipped.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	raws, err := s.Raw(ctx, f)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			s.logger.Debug("skipping undecodable queue item", "err", err)
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// Upsert inserts a new record or, when the key already exists for the type,
// replaces its planned date and keeps everything else. It reports true for
// every valid entry.
func (s *Store) Upsert(ctx context.Context, e Entry) (bool, error) {
	e.Key = Canonical(e.Key)
	if err := Validate(e.Key); err != nil {
		return false, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	id := e.Key.ID()
	for i, item := range doc.Items {
		var ik itemKey
		if json.Unmarshal(item, &ik) != nil || ik.Type != e.Type || ik.id() != id {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			continue
		}
		planned, _ := json.Marshal(e.PlannedDate)
		fields["plannedDate"] = planned
		updated, err := json.Marshal(fields)
		if err != nil {
			return false, fmt.Errorf("store: encode item: %w", err)
		}
		doc.Items[i] = updated
		return true, s.save(doc)
	}

	rec := Record{
		K:           id,
		Type:        e.Type,
		ClientID:    e.SubjectID,
		Month:       e.Period,
		Index:       e.Index,
		PlannedDate: e.PlannedDate,
		Tools:       []model.Tool{},
	}
	item, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("store: encode item: %w", err)
	}
	doc.Items = append(doc.Items, item)
	return true, s.save(doc)
}

// Remove deletes the record with key k and reports whether one existed.
func (s *Store) Remove(ctx context.Context, k model.Key) (bool, error) {
	k = Canonical(k)
	release, err := s.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	id := k.ID()
	kept := doc.Items[:0]
	for _, item := range doc.Items {
		var ik itemKey
		if json.Unmarshal(item, &ik) == nil && ik.Type == k.Type && ik.id() == id {
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) == len(doc.Items) {
		return false, nil
	}
	doc.Items = kept
	return true, s.save(doc)
}
