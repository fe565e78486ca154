package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tutu-network/reelq/internal/api"
	"github.com/tutu-network/reelq/internal/app/credit"
	"github.com/tutu-network/reelq/internal/app/history"
	"github.com/tutu-network/reelq/internal/app/job"
	"github.com/tutu-network/reelq/internal/domain"
	"github.com/tutu-network/reelq/internal/health"
	"github.com/tutu-network/reelq/internal/infra/pool"
	"github.com/tutu-network/reelq/internal/infra/provider"
	"github.com/tutu-network/reelq/internal/infra/queue"
	"github.com/tutu-network/reelq/internal/infra/scheduler"
	"github.com/tutu-network/reelq/internal/infra/sqlite"
	"github.com/tutu-network/reelq/internal/security"
)

// Daemon is the core reelq runtime. It wires together all services.
type Daemon struct {
	Config    Config
	DB        *sqlite.DB
	Queue     *queue.Queue
	Pool      *pool.Pool
	Provider  domain.Provider
	Jobs      *job.Client
	Scheduler *scheduler.Scheduler
	Ledger    *credit.Ledger
	History   *history.Recorder
	Health    *health.Checker
	Server    *api.Server

	logger *log.Entry
	cancel context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	setupLogging(cfg.Logging)
	logger := log.WithField("component", "daemon")

	// Open SQLite
	db, err := sqlite.Open(reelqHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	artifactsDir := cfg.Storage.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = DefaultConfig().Storage.ArtifactsDir
	}
	if err := os.MkdirAll(artifactsDir, 0755); err != nil {
		db.Close()
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}

	// Worker pool
	p := pool.New(cfg.Scheduler.ConcurrencyLimit)
	sources := []domain.CredentialSource{ConfigCredentials(cfg.Workers)}
	if cfg.Credentials.File != "" {
		sources = append(sources, FileCredentials{Path: cfg.Credentials.File})
	}
	specs, err := collectCredentials(sources...)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	p.Import(specs)
	if p.Len() == 0 {
		logger.Warn("no workers configured; add [[workers]] to config.toml or run `reelq workers set`")
	}

	// Task queue, with transitions recorded in sqlite
	q := queue.New()
	q.SetObserver(db)

	prov := newProvider(cfg.Provider)
	jobs := job.NewClient(prov, job.Config{
		PollInterval:    parseDuration(cfg.Job.PollInterval, 5*time.Second),
		MaxPollAttempts: cfg.Job.MaxPollAttempts,
	})

	ledger := credit.NewLedger(db)
	recorder := history.NewRecorder(db, artifactsDir)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.TickInterval = parseDuration(cfg.Scheduler.TickInterval, time.Second)
	schedCfg.MaxRetries = cfg.Scheduler.MaxRetries
	sched := scheduler.New(schedCfg, p, q, jobs, prov, credit.EstimatedCost)
	sched.SetLedger(ledger)
	sched.SetResultSink(recorder)
	sched.SetProgressSink(domain.ProgressFunc(func(taskID, msg string) {
		log.WithFields(log.Fields{"component": "job", "task_id": taskID}).Debug(msg)
	}))

	checker := health.NewChecker(db, artifactsDir, p)

	// API server
	srv := api.NewServer(q, p, sched)
	srv.SetResults(recorder)
	srv.SetEvents(db)
	srv.SetLedger(ledger)
	srv.SetHealth(checker)
	srv.SetCORSOrigins(cfg.API.CORSOrigins)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	if cfg.API.RequireAuth {
		token, err := security.LoadOrCreateToken(reelqHome())
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("api token: %w", err)
		}
		srv.SetToken(token)
	}

	return &Daemon{
		Config:    cfg,
		DB:        db,
		Queue:     q,
		Pool:      p,
		Provider:  prov,
		Jobs:      jobs,
		Scheduler: sched,
		Ledger:    ledger,
		History:   recorder,
		Health:    checker,
		Server:    srv,
		logger:    logger,
	}, nil
}

func newProvider(cfg ProviderConfig) domain.Provider {
	if cfg.Kind == ProviderMock {
		return provider.NewMock(provider.MockConfig{Cost: credit.EstimatedCost})
	}
	return provider.NewKie(provider.KieConfig{
		BaseURL: cfg.BaseURL,
		Timeout:         parseDuration(cfg.Timeout, 60*time.Second),
		DownloadTimeout: parseDuration(cfg.DownloadTimeout, 30*time.Minute),
	})
}

// setupLogging configures the global logrus logger.
func setupLogging(cfg LoggingConfig) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// Serve starts the scheduler and the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	// Seed credit estimates before the first tick
	for _, r := range d.Scheduler.RefreshAllCredits(ctx) {
		entry := d.logger.WithField("worker_id", r.WorkerID)
		if r.Error != "" {
			entry.WithField("error", r.Error).Warn("initial credit refresh failed")
			continue
		}
		entry.WithField("balance", r.Balance).Info("credits refreshed")
	}

	go d.Health.Run(ctx)

	schedDone := make(chan struct{})
	go func() {
		d.Scheduler.Run(ctx)
		close(schedDone)
	}()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long for artifact downloads
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		select {
		case <-sigCh:
			d.logger.Info("shutdown signal received")
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.logger.WithFields(log.Fields{
		"addr":     addr,
		"provider": d.Config.Provider.Kind,
		"workers":  d.Pool.Len(),
	}).Info("reelq serving")
	if d.Config.Telemetry.Prometheus {
		d.logger.Infof("metrics: http://%s/metrics", addr)
	}

	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		err = nil
	} else {
		cancel()
	}

	<-shutdownDone
	<-schedDone
	d.Scheduler.Wait()
	_ = d.DB.Close()
	d.logger.Info("reelq stopped")
	return err
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Scheduler != nil {
		d.Scheduler.Wait()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
