package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/damian-sirenko/signq/pkg/config"
	"github.com/damian-sirenko/signq/pkg/directory"
	"github.com/damian-sirenko/signq/pkg/legacy"
	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/normalize"
	"github.com/damian-sirenko/signq/pkg/reconcile"
	"github.com/damian-sirenko/signq/pkg/records"
	"github.com/damian-sirenko/signq/pkg/schedule"
	"github.com/damian-sirenko/signq/pkg/store"
)

var errNoRecords = errors.New("records.base_url is not configured")

// app holds what the commands share. Components are built on first use.
type app struct {
	cfgPath string
	envFile string
	level   string
	json    bool

	cfg *config.Config
	log logger.Logger

	store   *store.Store
	legacy  *legacy.Queue
	records *records.Client
	svc     *schedule.Service
}

func (a *app) init() error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.level != "" {
		cfg.Log.Level = a.level
	}
	if a.json {
		cfg.Log.JSON = true
	}
	a.cfg = cfg
	a.log = logger.Setup(logger.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Output: os.Stderr})
	return nil
}

func (a *app) taskStore() *store.Store {
	if a.store == nil {
		a.store = store.New(a.cfg.Store.Path, store.WithLogger(a.log))
	}
	return a.store
}

func (a *app) legacyQueue() *legacy.Queue {
	if a.legacy == nil {
		a.legacy = legacy.New(a.cfg.Legacy.Path, legacy.WithLogger(a.log))
	}
	return a.legacy
}

func (a *app) recordsClient() (*records.Client, error) {
	if a.cfg.Records.BaseURL == "" {
		return nil, errNoRecords
	}
	if a.records == nil {
		rc := a.cfg.Records
		a.records = records.New(records.Config{
			BaseURL:    rc.BaseURL,
			Token:      rc.Token,
			Timeout:    rc.Timeout,
			MaxRetries: rc.MaxRetries,
			RetryBase:  rc.RetryBase,
		}, records.WithLogger(a.log))
	}
	return a.records, nil
}

// sources lists the tiers in order. Remote URLs replace the local files.
func (a *app) sources() []reconcile.Source {
	t := a.cfg.Tiers
	var primary reconcile.Source = reconcile.StoreSource{Store: a.taskStore()}
	var secondary reconcile.Source = reconcile.LegacySource{Queue: a.legacyQueue()}
	if t.PrimaryURL != "" {
		primary = reconcile.NewHTTPSource(reconcile.TierStore, t.PrimaryURL, t.PrimaryPath, t.Timeout)
	}
	if t.LegacyURL != "" {
		secondary = reconcile.NewHTTPSource(reconcile.TierLegacy, t.LegacyURL, t.LegacyPath, t.Timeout)
	}
	var derived reconcile.Source
	if rc, err := a.recordsClient(); err == nil {
		derived = reconcile.RecordsSource{Records: rc}
	} else {
		a.log.Warn("records tier disabled", "err", err)
	}
	return []reconcile.Source{primary, secondary, derived}
}

func (a *app) service() (*schedule.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	rc, err := a.recordsClient()
	if err != nil {
		return nil, err
	}
	norm := normalize.New(normalize.WithSink(normalize.LogSink{Logger: a.log}))
	loader := reconcile.NewLoader(a.sources(), reconcile.WithLogger(a.log), reconcile.WithNormalizer(norm))
	dir, err := directory.New(rc, directory.DefaultSize, directory.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	a.svc = schedule.NewService(loader, rc,
		schedule.WithStore(a.taskStore()),
		schedule.WithLegacy(a.legacyQueue()),
		schedule.WithNamer(dir),
		schedule.WithGrouper(schedule.NewGrouper(a.cfg.Locale)),
		schedule.WithLogger(a.log),
	)
	return a.svc, nil
}

func (a *app) context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := logger.ContextWithLogger(parent, a.log)
	if a.cfg.Records.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	// Bounds a whole command across all tiers.
	return context.WithTimeout(ctx, 4*a.cfg.Records.Timeout+time.Minute)
}
