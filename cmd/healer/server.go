package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/healer/internal/core/validation"
	"github.com/artpar/healer/internal/shell/actions"
	"github.com/artpar/healer/internal/shell/ai"
	"github.com/artpar/healer/internal/shell/api"
	"github.com/artpar/healer/internal/shell/docker"
	"github.com/artpar/healer/internal/shell/faults"
	"github.com/artpar/healer/internal/shell/healer"
	"github.com/artpar/healer/internal/shell/metrics"
	"github.com/artpar/healer/internal/shell/notify"
	"github.com/artpar/healer/internal/shell/store"
	"github.com/artpar/healer/internal/shell/sysinfo"
	"github.com/artpar/healer/internal/shell/verify"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitArchiveError    = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

const dockerPingTimeout = 10 * time.Second

// =============================================================================
// Components
// =============================================================================

// components is the wired object graph shared by serve and check.
type components struct {
	healer  *healer.Healer
	queue   *faults.Queue
	docker  *docker.DockerClient // nil when docker is disabled
	archive *store.SQLiteStore   // nil when the archive is disabled
	metrics *metrics.Metrics
}

// buildComponents wires every collaborator of the healer from cfg.
func buildComponents(ctx context.Context, cfg *Config, logger *slog.Logger) (*components, error) {
	c := &components{
		queue:   faults.NewQueue(cfg.Sources.QueueCapacity),
		metrics: metrics.New(),
	}
	names := cfg.Healer.Names()

	if cfg.Docker.Enabled {
		d, err := docker.NewDockerClient(cfg.Docker.Host)
		if err != nil {
			return nil, &ServerError{Op: "NewDockerClient", Err: err, ExitCode: ExitDockerError}
		}
		pingCtx, cancel := context.WithTimeout(ctx, dockerPingTimeout)
		err = d.Ping(pingCtx)
		cancel()
		if err != nil {
			d.Close()
			return nil, &ServerError{Op: "PingDocker", Err: err, ExitCode: ExitDockerError}
		}
		c.docker = d
	}

	analyzer, err := ai.New(cfg.AI, logger)
	if err != nil {
		c.close(logger)
		return nil, &ServerError{Op: "NewAnalyzer", Err: err, ExitCode: ExitConfigError}
	}

	sinks := notify.Multi{notify.NewLogSink(logger)}
	if cfg.Notify.URL != "" {
		webhook, err := notify.NewWebhookSink(cfg.Notify)
		if err != nil {
			c.close(logger)
			return nil, &ServerError{Op: "NewWebhookSink", Err: err, ExitCode: ExitConfigError}
		}
		sinks = append(sinks, webhook)
	}

	if cfg.Archive.Enabled {
		s, err := store.NewSQLiteStore(cfg.Archive.DSN)
		if err != nil {
			c.close(logger)
			return nil, &ServerError{Op: "NewSQLiteStore", Err: err, ExitCode: ExitArchiveError}
		}
		c.archive = s
	}

	sampler := sysinfo.NewHostSampler(cfg.Sources.DiskPath, 0)
	policy := validation.Policy{
		AllowedServices:     cfg.Policy.AllowedServices,
		AllowedPathPrefixes: cfg.Policy.AllowedPathPrefixes,
	}

	// Fault sources: the API queue always, plus the optional watchers.
	sources := []faults.Source{c.queue}
	if cfg.Sources.Containers && c.docker != nil {
		sources = append(sources, faults.NewContainerSource(c.docker, names, logger))
	}
	if cfg.Sources.Resources {
		sources = append(sources, faults.NewResourceSource(sampler, cfg.Thresholds.Alert))
	}

	actionDeps := actions.Deps{}
	verifyOpts := []verify.Option{
		verify.WithSampler(sampler),
		verify.WithRunner(actions.ExecRunner{}),
		verify.WithFaults(c.queue.View()),
	}
	deps := healer.Deps{
		Sources:  faults.NewMulti(logger, sources...),
		Analyzer: analyzer,
		Notifier: notify.NewNotifier(sinks, cfg.Notify.Timeout, logger),
		Sampler:  sampler,
		Metrics:  c.metrics,
	}
	if c.docker != nil {
		actionDeps.Runtime = c.docker
		verifyOpts = append(verifyOpts, verify.WithContainers(c.docker))
		deps.Containers = c.docker
	}
	if c.archive != nil {
		deps.Archive = c.archive
	}

	deps.Actions = actions.New(actions.Config{
		Timeout:        cfg.Healer.ActionTimeout,
		Policy:         policy,
		NetworkService: cfg.Healer.NetworkService,
		LogrotateConf:  cfg.Healer.LogrotateConf,
		JournalMaxSize: cfg.Healer.JournalMaxSize,
		KeepPrefix:     names.ContainerPrefix(),
	}, actionDeps, logger)

	deps.Verifier = verify.NewEngine(verify.Config{
		Names:       names,
		Thresholds:  cfg.Thresholds.Verify,
		DialHost:    cfg.Healer.VerifyDialHost,
		DialTimeout: cfg.Healer.VerifyDialTimeout,
	}, logger, verifyOpts...)

	h, err := healer.New(healer.Options{
		Config:           cfg.Healer.Runtime(),
		BatchSize:        cfg.Healer.BatchSize,
		FaultLevel:       cfg.Healer.FaultLevel,
		StalenessWindow:  cfg.Healer.StalenessWindow,
		RateWindow:       cfg.Healer.RateWindow,
		PruneInterval:    cfg.Healer.PruneInterval,
		PostActionDelay:  cfg.Healer.PostActionDelay,
		EvidenceTimeout:  cfg.Healer.EvidenceTimeout,
		ArchiveRetention: cfg.Archive.Retention,
		HistorySize:      cfg.Healer.HistorySize,
		Names:            names,
	}, deps, logger)
	if err != nil {
		c.close(logger)
		return nil, &ServerError{Op: "NewHealer", Err: err, ExitCode: ExitConfigError}
	}
	c.healer = h

	logger.Info("healer configured",
		"analyzer", analyzer.Name(),
		"docker", c.docker != nil,
		"archive", c.archive != nil,
		"webhook", cfg.Notify.URL != "",
		"sources", len(sources),
		"auto_execute", cfg.Healer.AutoExecute,
	)
	return c, nil
}

func (c *components) close(logger *slog.Logger) {
	if c.docker != nil {
		if err := c.docker.Close(); err != nil {
			logger.Error("Docker client close error", "error", err)
		}
	}
	if c.archive != nil {
		if err := c.archive.Close(); err != nil {
			logger.Error("archive close error", "error", err)
		}
	}
}

// =============================================================================
// Server
// =============================================================================

// Server runs the healing loop and the admin API.
type Server struct {
	config     *Config
	components *components
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Server, error) {
	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	cfgAPI := api.Config{
		Healer:  c.healer,
		Queue:   c.queue,
		Metrics: c.metrics.Handler(),
		Token:   cfg.Server.APIToken,
		Version: Version,
		Logger:  logger,
	}
	if c.docker != nil {
		cfgAPI.Docker = c.docker
	}
	if c.archive != nil {
		cfgAPI.Archive = c.archive
	}
	if cfg.Server.APIToken == "" {
		logger.Warn("admin API has no token configured", "address", cfg.Server.Address())
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      api.NewHandler(cfgAPI).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		components: c,
		httpServer: httpServer,
		logger:     logger,
	}, nil
}

// Run starts the healer and the HTTP server and blocks until ctx is done
// or either of them fails.
func (s *Server) Run(ctx context.Context) error {
	defer s.components.close(s.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.components.healer.Run(gctx)
	})

	g.Go(func() error {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return &ServerError{Op: "ListenAndServe", Err: err, ExitCode: ExitHTTPServerError}
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), s.config.Server.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info("shutdown complete")
	return err
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
