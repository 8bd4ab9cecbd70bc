// Package reconcile builds the canonical task list for one queue type and
// period from up to three tiers consulted in strict order.
package reconcile

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/metrics"
	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/normalize"
)

type Result struct {
	Tasks []model.Task
	// Tier names the source that produced Tasks.
	Tier string
}

type Loader struct {
	tiers    []Source
	fallback Source
	norm     *normalize.Normalizer
	logger   logger.Logger
	group    singleflight.Group
}

type Option func(*Loader)

func WithLogger(l logger.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

func WithNormalizer(n *normalize.Normalizer) Option {
	return func(ld *Loader) {
		if n != nil {
			ld.norm = n
		}
	}
}

// NewLoader takes the tiers in order. The last one is the fallback whose
// answer is returned even when empty; nil sources are skipped.
func NewLoader(sources []Source, opts ...Option) *Loader {
	ld := &Loader{logger: logger.Default()}
	var live []Source
	for _, s := range sources {
		if s != nil {
			live = append(live, s)
		}
	}
	if n := len(live); n > 0 {
		ld.tiers, ld.fallback = live[:n-1], live[n-1]
	}
	for _, opt := range opts {
		opt(ld)
	}
	if ld.norm == nil {
		ld.norm = normalize.New(normalize.WithSink(normalize.LogSink{Logger: ld.logger}))
	}
	return ld
}

// Load never fails. Tier errors are logged and the next tier is tried;
// the fallback tier's answer is final. Concurrent loads of the same request
// share one cycle.
func (ld *Loader) Load(ctx context.Context, req Request) Result {
	key := string(req.Type) + "|" + string(req.Period)
	v, _, _ := ld.group.Do(key, func() (any, error) {
		return ld.load(ctx, req), nil
	})
	return v.(Result)
}

func (ld *Loader) load(ctx context.Context, req Request) Result {
	log := ld.logger.With("type", req.Type, "period", req.Period)
	for _, src := range ld.tiers {
		tasks, err := ld.fetch(ctx, src, req)
		if err != nil {
			log.Warn("tier unavailable, falling back", "tier", src.Name(), "err", err)
			continue
		}
		if len(tasks) > 0 {
			log.Debug("tier answered", "tier", src.Name(), "tasks", len(tasks))
			return Result{Tasks: tasks, Tier: src.Name()}
		}
	}
	if ld.fallback == nil {
		return Result{Tasks: []model.Task{}}
	}
	tasks, err := ld.fetch(ctx, ld.fallback, req)
	if err != nil {
		log.Error("fallback tier unavailable", "tier", ld.fallback.Name(), "err", err)
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	return Result{Tasks: tasks, Tier: ld.fallback.Name()}
}

func (ld *Loader) fetch(ctx context.Context, src Source, req Request) ([]model.Task, error) {
	raws, err := src.Fetch(ctx, req)
	if err != nil {
		metrics.TierLoads.WithLabelValues(src.Name(), "error").Inc()
		return nil, err
	}
	// Remote tiers may ignore the query, so off-request records are dropped
	// before deciding whether the tier answered.
	tasks := ld.norm.NormalizeFor(raws, req.Type, req.Period)
	for i := range tasks {
		tasks[i].Source = src.Name()
	}
	outcome := "hit"
	if len(tasks) == 0 {
		outcome = "empty"
	}
	metrics.TierLoads.WithLabelValues(src.Name(), outcome).Inc()
	return tasks, nil
}
