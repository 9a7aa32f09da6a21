// Package kernel assembles the orchestrator service from configuration and owns the
// lifecycle of everything it opens: storage, the replay cache, the audit log and the HTTP API.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"opnxt/internal/factory"
	"opnxt/pkg/api"
	"opnxt/pkg/config"
	"opnxt/pkg/contextmgr"
	"opnxt/pkg/eventlog"
	"opnxt/pkg/idempotency"
	"opnxt/pkg/llm"
	llmmetrics "opnxt/pkg/llm/metrics"
	"opnxt/pkg/llm/providers/offline"
	"opnxt/pkg/logx"
	"opnxt/pkg/metrics"
	"opnxt/pkg/model"
	"opnxt/pkg/orchestrator"
	"opnxt/pkg/persistence"
	"opnxt/pkg/registry"
	"opnxt/pkg/store"
)

// Kernel holds the wired service. Fields are exported for the CLI and tests; they are
// populated by NewKernel and must not be replaced afterwards.
type Kernel struct {
	// Context is embedded rather than a field to avoid containedctx lint error
	ctx    context.Context //nolint:containedctx // Required for kernel lifecycle management
	cancel context.CancelFunc

	Config *config.Config
	Logger *logx.Logger

	Store        store.Store
	Cache        *idempotency.Cache
	EventLog     *eventlog.Writer
	Metrics      *prometheus.Registry
	Registry     *registry.Registry
	Generator    llm.Generator
	Orchestrator *orchestrator.Orchestrator
	Server       *api.Server

	database *persistence.DatabaseOperations
	serveErr chan error
	running  bool
}

// NewKernel builds every component described by cfg. On error, whatever was already
// opened is closed again.
func NewKernel(parent context.Context, cfg *config.Config) (*Kernel, error) {
	ctx, cancel := context.WithCancel(parent)
	k := &Kernel{
		ctx:    ctx,
		cancel: cancel,
		Config: cfg,
		Logger: logx.NewLogger("kernel"),
	}
	if err := k.initializeServices(); err != nil {
		k.closeResources()
		cancel()
		return nil, fmt.Errorf("failed to initialize kernel services: %w", err)
	}
	return k, nil
}

func (k *Kernel) initializeServices() error {
	cfg := k.Config

	if _, err := config.UnlockSecrets(cfg.Storage.SecretsFile); err != nil {
		return fmt.Errorf("failed to unlock secrets: %w", err)
	}

	if err := k.initializeStore(); err != nil {
		return err
	}

	if cfg.Idempotency.Enabled {
		cacheCfg := idempotency.DefaultConfig(cfg.Idempotency.Path)
		if cfg.Idempotency.InMemory {
			cacheCfg = idempotency.InMemoryConfig()
		}
		cacheCfg.TTL = cfg.Idempotency.TTL
		cache, err := idempotency.Open(cacheCfg)
		if err != nil {
			return fmt.Errorf("failed to open idempotency cache: %w", err)
		}
		k.Cache = cache
	}

	if cfg.EventLog.Enabled {
		writer, err := eventlog.NewWriter(cfg.EventLog.Dir)
		if err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}
		k.EventLog = writer
	}

	k.Metrics = prometheus.NewRegistry()
	k.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var (
		pipelineMetrics  metrics.Recorder
		generatorMetrics llmmetrics.Recorder
	)
	if cfg.Metrics.Enabled {
		pipelineMetrics = metrics.NewPrometheusRecorder(k.Metrics)
		generatorMetrics = llmmetrics.NewPrometheusRecorder(k.Metrics)
	}

	descriptors := registry.DefaultCatalog()
	if cfg.Registry.CatalogFile != "" {
		loaded, err := registry.LoadCatalog(cfg.Registry.CatalogFile)
		if err != nil {
			return err //nolint:wrapcheck // already names the file
		}
		descriptors = loaded
	}
	reg, err := registry.New(descriptors...)
	if err != nil {
		return fmt.Errorf("invalid agent catalog: %w", err)
	}
	k.Registry = reg

	gen, err := factory.NewGeneratorFactory(cfg, generatorMetrics).CreateGenerator()
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}
	k.Generator = gen

	opts := orchestrator.Options{
		Contexts:              contextmgr.NewContextManager(cfg.Context, k.summarizer()),
		Metrics:               pipelineMetrics,
		DefaultPolicy:         model.ChangePolicy(cfg.Orchestrator.DefaultPolicy),
		MinRequirementAnswers: cfg.Orchestrator.MinRequirementAnswers,
		LedgerMaxDepth:        cfg.Ledger.MaxDepth,
	}
	if k.Cache != nil {
		opts.Cache = k.Cache
	}
	if k.EventLog != nil {
		opts.Audit = k.EventLog
	}
	k.Orchestrator = orchestrator.New(k.Store, k.Registry, k.Generator, opts)

	k.Server, err = api.NewServer(k.Orchestrator, api.Config{
		Addr:         cfg.Server.Addr,
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, api.WithGatherer(k.Metrics), api.WithReadiness(k.Ready))
	if err != nil {
		return fmt.Errorf("failed to create HTTP API: %w", err)
	}

	k.Logger.Info("Kernel services initialized (store=%s, generator=%s)", cfg.Storage.Driver, k.Generator.Name())
	return nil
}

func (k *Kernel) initializeStore() error {
	switch k.Config.Storage.Driver {
	case config.StorageMemory:
		k.Store = store.NewMemStore()
		k.Logger.Warn("⚠️ Using in-memory storage; projects are lost on exit")
	default:
		ops, err := persistence.Open(k.Config.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		k.database = ops
		k.Store = ops
	}
	return nil
}

// summarizer picks the history summarizer. A real primary provider writes abstractive
// digests; the offline generator cannot, so it gets the extractive one.
func (k *Kernel) summarizer() contextmgr.Summarizer {
	primary := k.Config.Generator.Primary
	if primary == offline.Name {
		return contextmgr.ExtractiveSummarizer{}
	}
	profile := llm.Profile{Provider: primary, MaxTokens: k.Config.Context.MaxReplyTokens}
	if pc, ok := k.Config.Generator.Providers.Get(primary); ok {
		profile.Model = pc.Model
	}
	return contextmgr.NewGeneratorSummarizer(k.Generator, profile)
}

// Ready reports whether the service can take requests.
func (k *Kernel) Ready(ctx context.Context) error {
	if k.database == nil {
		return nil
	}
	if err := k.database.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	return nil
}

// Start serves the HTTP API in the background. Errors from the listener arrive on Done.
func (k *Kernel) Start() error {
	if k.running {
		return fmt.Errorf("kernel already running")
	}
	k.serveErr = make(chan error, 1)
	go func() {
		k.serveErr <- k.Server.Start()
	}()
	k.running = true
	k.Logger.Info("Kernel services started")
	return nil
}

// Done delivers the HTTP server's exit error, or nil after a clean shutdown.
func (k *Kernel) Done() <-chan error {
	return k.serveErr
}

// Context is cancelled when the kernel stops.
func (k *Kernel) Context() context.Context {
	return k.ctx
}

// Stop shuts the API down, waits for in-flight requests up to the configured timeout and
// closes storage afterwards.
func (k *Kernel) Stop() error {
	var errs []error
	if k.running {
		k.Logger.Info("Stopping kernel services...")
		timeout := k.Config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := k.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down HTTP API: %w", err))
		}
		cancel()
		k.running = false
	}
	k.cancel()
	errs = append(errs, k.closeResources()...)
	k.Logger.Info("Kernel services stopped")
	return errors.Join(errs...)
}

func (k *Kernel) closeResources() []error {
	var errs []error
	if k.Cache != nil {
		if err := k.Cache.Close(); err != nil {
			errs = append(errs, err)
		}
		k.Cache = nil
	}
	if k.EventLog != nil {
		if err := k.EventLog.Close(); err != nil {
			errs = append(errs, err)
		}
		k.EventLog = nil
	}
	if k.database != nil {
		if err := k.database.Close(); err != nil {
			errs = append(errs, err)
		}
		k.database = nil
	}
	return errs
}
