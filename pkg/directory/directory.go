// Package directory resolves subject ids to display names using the
// collaborator's client list.
package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"

	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/normalize"
)

const (
	DefaultSize = 2048
	DefaultTTL  = 10 * time.Minute
)

var (
	idField   = normalize.Field{"id", "ID", "clientId"}
	nameField = normalize.Field{"name", "Klient", "clientName"}
)

type ClientLister interface {
	Clients(ctx context.Context) ([]byte, error)
}

type Directory struct {
	src    ClientLister
	cache  *lru.Cache[string, string]
	ttl    time.Duration
	now    func() time.Time
	logger logger.Logger

	mu        sync.Mutex
	refreshed time.Time
}

type Option func(*Directory)

func WithTTL(ttl time.Duration) Option {
	return func(d *Directory) { d.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

func New(src ClientLister, size int, opts ...Option) (*Directory, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}
	d := &Directory{src: src, cache: cache, ttl: DefaultTTL, now: time.Now, logger: logger.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Refresh reloads the whole client list into the cache.
func (d *Directory) Refresh(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refresh(ctx)
}

func (d *Directory) refresh(ctx context.Context) error {
	body, err := d.src.Clients(ctx)
	if err != nil {
		return err
	}
	doc := gjson.ParseBytes(body)
	if items := doc.Get("items"); doc.IsObject() && items.IsArray() {
		doc = items
	}
	n := 0
	for _, c := range doc.Array() {
		id, name := idField.Scalar(c), nameField.Scalar(c)
		if id == "" || name == "" {
			continue
		}
		d.cache.Add(id, name)
		n++
	}
	d.refreshed = d.now()
	d.logger.Debug("client directory refreshed", "clients", n)
	return nil
}

// Name returns the cached display name of a subject.
func (d *Directory) Name(id string) (string, bool) {
	return d.cache.Get(id)
}

// Resolve fills SubjectName on tasks that lack one. A stale cache is
// refreshed first; refresh errors only leave names unresolved.
func (d *Directory) Resolve(ctx context.Context, tasks []model.Task) {
	missing := false
	for _, t := range tasks {
		if t.SubjectName == "" {
			if _, ok := d.cache.Get(t.SubjectID); !ok {
				missing = true
				break
			}
		}
	}
	if missing {
		d.mu.Lock()
		if d.refreshed.IsZero() || d.now().Sub(d.refreshed) > d.ttl {
			if err := d.refresh(ctx); err != nil {
				d.logger.Warn("client directory unavailable", "err", err)
			}
		}
		d.mu.Unlock()
	}
	for i := range tasks {
		if tasks[i].SubjectName != "" {
			continue
		}
		if name, ok := d.cache.Get(tasks[i].SubjectID); ok {
			tasks[i].SubjectName = name
		}
	}
}
