package cli

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jguan/pipeline-console/pkg/config"
	"github.com/jguan/pipeline-console/pkg/infra/cache"
	"github.com/jguan/pipeline-console/pkg/infra/eventbus"
	"github.com/jguan/pipeline-console/pkg/infra/logger"
	"github.com/jguan/pipeline-console/pkg/infra/manager"
	"github.com/jguan/pipeline-console/pkg/infra/metrics"
	"github.com/jguan/pipeline-console/pkg/infra/notify"
	"github.com/jguan/pipeline-console/pkg/infra/ratelimit"
	"github.com/jguan/pipeline-console/pkg/infra/store"
	"github.com/jguan/pipeline-console/pkg/unit/pipeline"
)

const notificationBacklog = 100

// App wires the pipeline console components for one command invocation.
type App struct {
	Config        *config.Config
	API           pipeline.API
	Cache         *cache.QueryCache
	Store         *pipeline.StatusStore
	Queries       *pipeline.Queries
	Actions       *pipeline.Actions
	Reconciler    *pipeline.Reconciler
	Editor        *pipeline.DescriptorEditor
	Notifications *notify.MemorySink
	Notifier      notify.Sink
	Events        eventbus.EventBus
	History       eventbus.EventStore
	Metrics       *metrics.Collectors
	Registry      *prometheus.Registry

	// pollWarnings throttles the warnings of failed polls before Notifier.
	pollWarnings notify.Sink
	db           *sql.DB
}

type appOptions struct {
	api      pipeline.API
	registry *prometheus.Registry
}

type AppOption func(*appOptions)

// WithAPI replaces the HTTP client built from the config.
func WithAPI(api pipeline.API) AppOption {
	return func(o *appOptions) {
		o.api = api
	}
}

// WithRegistry registers the collectors on reg instead of a private one.
func WithRegistry(reg *prometheus.Registry) AppOption {
	return func(o *appOptions) {
		o.registry = reg
	}
}

func NewApp(cfg *config.Config, opts ...AppOption) (*App, error) {
	o := &appOptions{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg}

	a.API = o.api
	if a.API == nil {
		clientOpts := []manager.Option{manager.WithTimeout(cfg.API.TimeoutD)}
		if cfg.API.APIKey != "" {
			clientOpts = append(clientOpts, manager.WithAPIKey(cfg.API.APIKey))
		}
		a.API = manager.NewClient(cfg.API.BaseURL, clientOpts...)
	}

	a.Registry = o.registry
	if a.Registry == nil {
		a.Registry = prometheus.NewRegistry()
	}
	m, err := metrics.New(a.Registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.Metrics = m

	if err := a.initEvents(); err != nil {
		return nil, err
	}

	a.Notifications = notify.NewMemorySink(notificationBacklog)
	a.Notifier = notify.Fanout(
		notify.NewLogSink(logger.Default()),
		a.Notifications,
		notify.SinkFunc(func(n notify.Notification) { a.Metrics.NotificationPushed(string(n.Severity)) }),
	)
	// only poll warnings repeat every tick; action and edit failures are
	// always delivered
	a.pollWarnings = notify.Throttle(a.Notifier,
		ratelimit.New(float64(cfg.Notify.Rate), int64(cfg.Notify.Burst)))

	a.Cache = cache.New(
		cache.WithStaleTime(cfg.Cache.StaleTimeD),
		cache.WithMaxSize(cfg.Cache.MaxEntries),
	)
	a.Store = pipeline.NewStatusStore()
	a.Queries = pipeline.NewQueries(a.API, a.Cache)
	a.Actions = pipeline.NewActions(a.Store, a.API, a.Cache,
		pipeline.WithNotifier(a.Notifier),
		pipeline.WithEvents(a.Events),
		pipeline.WithMetrics(a.Metrics),
		pipeline.WithDeleted(func(id string) { a.Reconciler.Forget(id) }),
	)
	a.Reconciler = pipeline.NewReconciler(a.API, a.Store,
		pipeline.WithInterval(cfg.Poll.ListIntervalD),
		pipeline.WithListCache(a.Cache),
		pipeline.WithReconcilerEvents(a.Events),
		pipeline.WithReconcilerMetrics(a.Metrics),
		pipeline.WithErrorHandler(func(err error) {
			a.pollWarnings.Push(notify.New(notify.SeverityWarning, pipeline.ErrorMessage(err)))
		}),
	)
	a.Editor = pipeline.NewDescriptorEditor(a.API, a.Queries, a.Notifier, a.Events)

	return a, nil
}

func (a *App) initEvents() error {
	if !a.Config.History.Enabled {
		a.Events = eventbus.NewInMemoryEventBus()
		return nil
	}

	db, err := store.Open(a.Config.History.DBPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	history, err := eventbus.NewSQLiteEventStore(db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("init history: %w", err)
	}

	a.db = db
	a.History = history
	a.Events = eventbus.NewPersistentEventBus(history)
	return nil
}

// NewMetricsPoller returns a stats poller for id that reads the server
// status from the last reconciled snapshot.
func (a *App) NewMetricsPoller(id string) *pipeline.MetricsPoller {
	status := func() pipeline.ServerStatus {
		snap, ok := a.Reconciler.Last()
		if !ok {
			return manager.PipelineStatusShutdown
		}
		p, found := snap.Find(id)
		if !found {
			return manager.PipelineStatusShutdown
		}
		return p.State.CurrentStatus
	}
	return pipeline.NewMetricsPoller(a.API, id, status, a.Config.Poll.MetricsIntervalD, a.Metrics)
}

// Close flushes pending history and releases the database.
func (a *App) Close() error {
	var errs []error
	if a.Events != nil {
		if err := a.Events.Close(); err != nil && !errors.Is(err, eventbus.ErrClosed) {
			errs = append(errs, fmt.Errorf("close events: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	return errors.Join(errs...)
}
