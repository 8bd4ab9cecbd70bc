package schedule

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/damian-sirenko/signq/pkg/legacy"
	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/normalize"
	"github.com/damian-sirenko/signq/pkg/reconcile"
	"github.com/damian-sirenko/signq/pkg/records"
	"github.com/damian-sirenko/signq/pkg/store"
)

var (
	ErrInvalidDate  = errors.New("schedule: invalid date")
	ErrTaskNotFound = errors.New("schedule: task not found")
)

// Loader produces the canonical task list; see reconcile.Loader.
type Loader interface {
	Load(ctx context.Context, req reconcile.Request) reconcile.Result
}

// Records is the mutating side of the records collaborator.
type Records interface {
	Patch(ctx context.Context, k model.Key, p records.Patch) error
	Sign(ctx context.Context, k model.Key, leg model.Leg, role model.Role, ref string) error
	SignDefaultStaff(ctx context.Context, k model.Key, leg model.Leg) error
	Unsign(ctx context.Context, k model.Key, leg model.Leg, role model.Role) error
	SetPending(ctx context.Context, k model.Key, typ model.Type, pending bool) error
	Entry(ctx context.Context, k model.Key) ([]byte, error)
}

type Namer interface {
	Resolve(ctx context.Context, tasks []model.Task)
}

// View is the result of the last successful load.
type View struct {
	Request reconcile.Request `json:"request"`
	Tier    string            `json:"tier"`
	Tasks   []model.Task      `json:"tasks"`
}

func (v View) Find(k model.Key) (model.Task, bool) {
	for _, t := range v.Tasks {
		if t.Key() == k {
			return t, true
		}
	}
	return model.Task{}, false
}

// Service is the queue as seen by a user: it loads, groups and mutates.
// Mutations never touch the current view; it is replaced by a reload once
// the collaborator has accepted the change.
type Service struct {
	loader  Loader
	records Records
	store   *store.Store
	legacy  *legacy.Queue
	names   Namer
	grouper *Grouper
	now     func() time.Time
	logger  logger.Logger

	mu      sync.RWMutex
	current View
}

type Option func(*Service)

func WithStore(st *store.Store) Option { return func(s *Service) { s.store = st } }

func WithLegacy(q *legacy.Queue) Option { return func(s *Service) { s.legacy = q } }

func WithNamer(n Namer) Option { return func(s *Service) { s.names = n } }

func WithGrouper(g *Grouper) Option { return func(s *Service) { s.grouper = g } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(loader Loader, rec Records, opts ...Option) *Service {
	s := &Service{
		loader:  loader,
		records: rec,
		grouper: NewGrouper(DefaultLocale),
		now:     time.Now,
		logger:  logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Today() model.Date { return model.Today(s.now()) }

// Current returns the last loaded view.
func (s *Service) Current() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Load runs a reconciliation cycle and makes its result current.
func (s *Service) Load(ctx context.Context, req reconcile.Request) View {
	res := s.loader.Load(ctx, req)
	// The slice is shared with every caller of the same in-flight load.
	res.Tasks = slices.Clone(res.Tasks)
	if s.names != nil {
		s.names.Resolve(ctx, res.Tasks)
	}
	v := View{Request: req, Tier: res.Tier, Tasks: res.Tasks}
	s.mu.Lock()
	s.current = v
	s.mu.Unlock()
	return v
}

// Days loads the queue and groups it for display on filter. A zero filter
// means today.
func (s *Service) Days(ctx context.Context, req reconcile.Request, filter model.Date) []Bucket {
	v := s.Load(ctx, req)
	today := s.Today()
	if filter.IsZero() {
		filter = today
	}
	return s.grouper.Group(v.Tasks, req.Type, filter, today)
}

func (s *Service) reload(ctx context.Context, k model.Key) View {
	req := s.Current().Request
	if req.Type == "" {
		req = reconcile.Request{Type: k.Type, Period: k.Period}
	}
	return s.Load(ctx, req)
}

func (s *Service) find(ctx context.Context, k model.Key) (model.Task, error) {
	if t, ok := s.Current().Find(k); ok {
		return t, nil
	}
	v := s.Load(ctx, reconcile.Request{Type: k.Type, Period: k.Period})
	if t, ok := v.Find(k); ok {
		return t, nil
	}
	return model.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, k)
}

// Sign attaches a signature. Either leg may be signed regardless of the
// other. When the entry ends up fully signed it leaves both queues.
func (s *Service) Sign(ctx context.Context, k model.Key, leg model.Leg, role model.Role, ref string) (View, error) {
	if err := s.records.Sign(ctx, k, leg, role, ref); err != nil {
		return s.Current(), err
	}
	return s.afterSign(ctx, k)
}

// SignDefaultStaff signs leg with the collaborator's stored staff signature.
func (s *Service) SignDefaultStaff(ctx context.Context, k model.Key, leg model.Leg) (View, error) {
	if err := s.records.SignDefaultStaff(ctx, k, leg); err != nil {
		return s.Current(), err
	}
	return s.afterSign(ctx, k)
}

func (s *Service) afterSign(ctx context.Context, k model.Key) (View, error) {
	raw, err := s.records.Entry(ctx, k)
	if err != nil {
		s.logger.Warn("could not read back signed entry", "key", k, "err", err)
		return s.reload(ctx, k), nil
	}
	task, err := normalize.Normalize(raw, k.Type)
	if err != nil || !task.Signatures.FullySigned() {
		return s.reload(ctx, k), nil
	}
	for _, typ := range []model.Type{model.Courier, model.Point} {
		if err := s.records.SetPending(ctx, k, typ, false); err != nil {
			s.reload(ctx, k)
			return s.Current(), fmt.Errorf("signed, but leaving the %s queue failed: %w", typ, err)
		}
	}
	s.forget(ctx, k)
	s.logger.Info("entry fully signed", "key", k)
	return s.reload(ctx, k), nil
}

func (s *Service) Unsign(ctx context.Context, k model.Key, leg model.Leg, role model.Role) (View, error) {
	if err := s.records.Unsign(ctx, k, leg, role); err != nil {
		return s.Current(), err
	}
	return s.reload(ctx, k), nil
}

// MoveToDay reschedules a task. leg may be empty to use the task's default
// leg. Courier tasks also get their planned date moved.
func (s *Service) MoveToDay(ctx context.Context, k model.Key, leg model.Leg, day string) (View, error) {
	d, err := model.ParseDate(day)
	if err != nil {
		return s.Current(), fmt.Errorf("%w: %q", ErrInvalidDate, day)
	}
	task, err := s.find(ctx, k)
	if err != nil {
		return s.Current(), err
	}
	if leg == "" {
		leg = task.DefaultLeg()
	}
	var p records.Patch
	if leg == model.Return {
		p.ReturnDate = &d
	} else {
		p.Date = &d
	}
	if k.Type == model.Courier {
		p.CourierPlannedDate = &d
	}
	if err := s.records.Patch(ctx, k, p); err != nil {
		return s.Current(), err
	}
	if k.Type == model.Courier {
		s.mirrorPlanned(ctx, k, d)
	}
	return s.reload(ctx, k), nil
}

// Dequeue clears the task's pending flag for its own type. The underlying
// entry stays.
func (s *Service) Dequeue(ctx context.Context, k model.Key) (View, error) {
	if err := s.records.SetPending(ctx, k, k.Type, false); err != nil {
		return s.Current(), err
	}
	s.forget(ctx, k)
	return s.reload(ctx, k), nil
}

// Enqueue sets the pending flag and records the entry in the Task Store.
func (s *Service) Enqueue(ctx context.Context, k model.Key, planned model.Date) (View, error) {
	if err := store.Validate(k); err != nil {
		return s.Current(), err
	}
	if err := s.records.SetPending(ctx, k, k.Type, true); err != nil {
		return s.Current(), err
	}
	if k.Type == model.Courier && !planned.IsZero() {
		if err := s.records.Patch(ctx, k, records.Patch{CourierPlannedDate: &planned}); err != nil {
			s.logger.Warn("planned date not set", "key", k, "err", err)
		}
	}
	if s.store != nil {
		if _, err := s.store.Upsert(ctx, store.Entry{Key: k, PlannedDate: planned}); err != nil {
			s.logger.Warn("task store not updated", "key", k, "err", err)
		}
	}
	return s.reload(ctx, k), nil
}

// mirrorPlanned copies a new planned date into the Task Store when the task
// is stored there.
func (s *Service) mirrorPlanned(ctx context.Context, k model.Key, d model.Date) {
	if s.store != nil {
		recs, err := s.store.List(ctx, store.Filter{Type: k.Type, Period: k.Period})
		if err != nil {
			s.logger.Warn("task store unavailable", "key", k, "err", err)
		}
		for _, r := range recs {
			if r.Key() != k {
				continue
			}
			if _, err := s.store.Upsert(ctx, store.Entry{Key: k, PlannedDate: d}); err != nil {
				s.logger.Warn("task store not updated", "key", k, "err", err)
			}
			break
		}
	}
	if s.legacy != nil {
		if _, err := s.legacy.UpdatePlanned(ctx, k, d); err != nil && !errors.Is(err, legacy.ErrNotFound) {
			s.logger.Warn("legacy queue not updated", "key", k, "err", err)
		}
	}
}

// forget drops a task from the local queues after it left the
// collaborator's queue.
func (s *Service) forget(ctx context.Context, k model.Key) {
	if s.store != nil {
		if _, err := s.store.Remove(ctx, k); err != nil {
			s.logger.Warn("task store not updated", "key", k, "err", err)
		}
	}
	if s.legacy != nil {
		if _, err := s.legacy.Dequeue(ctx, k); err != nil && !errors.Is(err, legacy.ErrNotFound) {
			s.logger.Warn("legacy queue not updated", "key", k, "err", err)
		}
	}
}
