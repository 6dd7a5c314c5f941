// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/auth"
	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/broadcast/ws"
	"github.com/holomush/storyengine/internal/challenge"
	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/command"
	"github.com/holomush/storyengine/internal/command/handlers"
	"github.com/holomush/storyengine/internal/config"
	"github.com/holomush/storyengine/internal/movement"
	"github.com/holomush/storyengine/internal/observability"
	"github.com/holomush/storyengine/internal/oracle"
	"github.com/holomush/storyengine/internal/pipeline"
	"github.com/holomush/storyengine/internal/protocol"
	"github.com/holomush/storyengine/internal/queue"
	pgqueue "github.com/holomush/storyengine/internal/queue/postgres"
	"github.com/holomush/storyengine/internal/queue/sqlite"
	"github.com/holomush/storyengine/internal/readstate"
	"github.com/holomush/storyengine/internal/staging"
	stagingpg "github.com/holomush/storyengine/internal/staging/postgres"
	"github.com/holomush/storyengine/internal/store"
	"github.com/holomush/storyengine/internal/world"
	"github.com/holomush/storyengine/internal/worldstate"
	"github.com/holomush/storyengine/pkg/errutil"
)

// Error codes for server assembly.
const (
	CodeWorldLoad   = "WORLD_LOAD_FAILED"
	CodeCatalogLoad = "CATALOG_LOAD_FAILED"
	CodeQueueOpen   = "QUEUE_OPEN_FAILED"
	CodeDBConnect   = "DB_CONNECT_FAILED"
	CodeMigration   = "MIGRATION_FAILED"
	CodeCodecInit   = "CODEC_INIT_FAILED"
)

const (
	dbConnectTimeout  = 10 * time.Second
	readinessPingWait = 2 * time.Second
)

// backend is where queued work and durable repositories live.
type backend struct {
	clk    clock.Clock
	sqlite *sqlite.DB
	pool   *pgxpool.Pool
}

func openQueue[T any](b *backend, name string) queue.Queue[T] {
	switch {
	case b.pool != nil:
		return pgqueue.New[T](b.pool, name, b.clk)
	case b.sqlite != nil:
		return sqlite.NewQueue[T](b.sqlite, name, b.clk)
	default:
		return queue.NewMemoryQueue[T](name, b.clk)
	}
}

func (b *backend) stagingRepository() staging.Repository {
	if b.pool != nil {
		return stagingpg.NewRepository(b.pool)
	}
	return staging.NewMemoryRepository()
}

func (b *backend) readState() readstate.Port {
	if b.pool != nil {
		return readstate.NewPostgres(b.pool, b.clk)
	}
	return readstate.NewMemory(b.clk)
}

// ping checks the database when there is one.
func (b *backend) ping(ctx context.Context) error {
	if b.pool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, readinessPingWait)
	defer cancel()
	if err := b.pool.Ping(ctx); err != nil {
		return oops.Code(CodeDBConnect).Wrapf(err, "database")
	}
	return nil
}

func (b *backend) close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.sqlite != nil {
		if err := b.sqlite.Close(); err != nil {
			slog.Warn("error closing queue database", "error", err)
		}
	}
}

// openBackend connects the configured queue backend, migrating PostgreSQL
// first when asked.
func openBackend(ctx context.Context, cfg config.Config, deps *ServeDeps, clk clock.Clock) (*backend, error) {
	b := &backend{clk: clk}
	switch cfg.QueueBackend {
	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, oops.Code(CodeQueueOpen).With("path", cfg.SQLitePath).Wrap(err)
		}
		b.sqlite = db
	case config.BackendPostgres:
		if cfg.AutoMigrate {
			if err := migrateUp(deps, cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		pool, err := deps.PoolOpener(ctx, store.PoolConfig{
			URL:            cfg.DatabaseURL,
			MaxConns:       int32(cfg.DBMaxConns), //nolint:gosec // validated positive and small
			ConnectTimeout: dbConnectTimeout,
		})
		if err != nil {
			return nil, oops.Code(CodeDBConnect).With("operation", "connect to database").Wrap(err)
		}
		b.pool = pool
	}
	return b, nil
}

func migrateUp(deps *ServeDeps, databaseURL string) error {
	m, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code(CodeMigration).With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr)
		}
	}()
	if err := m.Up(); err != nil {
		return oops.Code(CodeMigration).With("operation", "auto-migrate").Wrap(err)
	}
	slog.Info("database migrations applied")
	return nil
}

// app is the assembled server.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	clk        clock.Clock
	worlds     *world.Map
	backend    *backend
	hub        *broadcast.Hub
	services   *command.Services
	dispatcher *command.Dispatcher
	limiter    *command.RateLimiter
	scheduler  *staging.Scheduler
	janitor    *queue.Janitor
	metrics    *observability.Metrics
}

// buildApp loads the world and wires every service. reg and metrics may be
// nil when metrics are disabled.
func buildApp(ctx context.Context, cfg config.Config, deps *ServeDeps, reg prometheus.Registerer, metrics *observability.Metrics) (*app, error) {
	logger := slog.Default()
	clk := clock.System{}

	worlds, err := loadWorld(cfg.WorldFile)
	if err != nil {
		return nil, err
	}
	catalog, err := loadCatalog(cfg.ChallengeFile)
	if err != nil {
		return nil, err
	}

	rateExempt, err := command.CompileMessagePatterns(cfg.RateExempt)
	if err != nil {
		return nil, oops.With("key", "rate-exempt").Wrap(err)
	}

	b, err := openBackend(ctx, cfg, deps, clk)
	if err != nil {
		return nil, err
	}

	if reg != nil {
		queue.RegisterMetrics(reg)
		oracle.RegisterMetrics(reg)
		command.RegisterMetrics(reg)
	}
	if metrics != nil {
		metrics.WorldsLoaded.Set(float64(len(worlds.Worlds())))
	}

	llm := newLLM(cfg)
	var images oracle.ImageGenerator = oracle.Disabled{}

	hub := broadcast.NewHub(clk)
	state := worldstate.NewStore(clk)

	stats := challenge.NewStats()
	executor := challenge.NewStateExecutor(state, catalog, stats)
	challenges := challenge.NewService(catalog, state, executor, hub, challenge.Config{Clock: clk, Logger: logger})

	approvalQ := openQueue[pipeline.ApprovalRequest](b, pipeline.QueueApprovals)
	llmQ := openQueue[pipeline.LLMRequest](b, pipeline.QueueLLMRequests)
	playerQ := openQueue[pipeline.PlayerAction](b, pipeline.QueuePlayerActions)
	dmQ := openQueue[pipeline.DMAction](b, pipeline.QueueDMActions)
	assetQ := openQueue[pipeline.AssetRequest](b, pipeline.QueueAssets)

	janitor := queue.NewJanitor(queue.JanitorConfig{
		Interval:   cfg.QueueCleanupInterval,
		Retention:  cfg.QueueRetention,
		StaleAfter: cfg.QueueStaleAfter,
		Logger:     logger,
	})
	janitor.Add(playerQ)
	janitor.Add(llmQ)
	janitor.AddExpiring(approvalQ, cfg.ApprovalExpiry)
	janitor.Add(dmQ)
	janitor.Add(assetQ)

	llmSvc := pipeline.NewLLMService(llmQ, approvalQ, llm, challenges, hub, logger)
	challenges.SetSuggestionRequester(llmSvc)
	approvals := pipeline.NewApprovalService(approvalQ, llmSvc, state, executor, hub, logger)

	stagings := staging.NewService(b.stagingRepository(), worlds, state, llm, hub, staging.Config{
		DefaultTTLHours: cfg.StagingTTLHours,
		ApprovalTimeout: cfg.ApprovalTimeout,
		Clock:           clk,
		Logger:          logger,
	})
	reads := b.readState()

	services := &command.Services{
		Players: pipeline.NewPlayerActionService(playerQ, llmSvc, state,
			world.NewContextProvider(worlds, state, catalog), hub, logger),
		LLM:       llmSvc,
		Approvals: approvals,
		DMActions: pipeline.NewDMActionService(dmQ, approvals, state, hub, logger),
		Assets: pipeline.NewAssetService(assetQ, images, reads, hub, pipeline.AssetConfig{
			PollInterval: cfg.AssetPollInterval,
			Timeout:      cfg.OracleTimeout,
			Logger:       logger,
		}),
		Challenges: challenges,
		Staging:    stagings,
		Movement:   movement.NewService(worlds, stagings, state, hub, logger),
		Reads:      reads,
		Events:     hub,
		Clock:      clk,
	}

	codec, err := protocol.NewCodec()
	if err != nil {
		b.close()
		return nil, oops.Code(CodeCodecInit).Wrap(err)
	}
	registry := command.NewRegistry()
	handlers.RegisterAll(registry)

	limiterCfg := command.RateLimiterConfig{
		BurstCapacity: cfg.RateBurst,
		SustainedRate: cfg.RateSustained,
		Clock:         clk,
	}
	var limiter *command.RateLimiter
	if reg != nil {
		limiter = command.NewRateLimiterWithRegistry(limiterCfg, reg)
	} else {
		limiter = command.NewRateLimiter(limiterCfg)
	}

	dispatcher := command.NewDispatcher(registry, codec, services, handlers.PublicCodes(),
		command.WithRateLimiter(limiter),
		command.WithRateExemptions(rateExempt),
		command.WithLogger(logger))

	return &app{
		cfg:        cfg,
		logger:     logger,
		clk:        clk,
		worlds:     worlds,
		backend:    b,
		hub:        hub,
		services:   services,
		dispatcher: dispatcher,
		limiter:    limiter,
		scheduler:  staging.NewScheduler(stagings, worlds.Worlds, cfg.SchedulerInterval, logger),
		janitor:    janitor,
		metrics:    metrics,
	}, nil
}

func loadWorld(path string) (*world.Map, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, oops.Code(CodeWorldLoad).With("path", path).Wrap(err)
	}
	defer func() { _ = f.Close() }()
	m, err := world.LoadMap(f)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return m, nil
}

// loadCatalog returns an empty catalog when path is unset.
func loadCatalog(path string) (*challenge.MemoryCatalog, error) {
	if path == "" {
		return challenge.NewMemoryCatalog(), nil
	}
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, oops.Code(CodeCatalogLoad).With("path", path).Wrap(err)
	}
	defer func() { _ = f.Close() }()
	c, err := challenge.LoadCatalog(f)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return c, nil
}

// newLLM returns the configured endpoint wrapped in retries, or Disabled
// when none is set.
func newLLM(cfg config.Config) oracle.LLM {
	if cfg.LLMEndpoint == "" {
		return oracle.Disabled{}
	}
	retry := oracle.DefaultRetryConfig()
	retry.AttemptTimeout = cfg.OracleTimeout
	return oracle.NewResilientLLM(oracle.NewHTTPLLM(oracle.HTTPConfig{
		Endpoint: cfg.LLMEndpoint,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
		Timeout:  cfg.OracleTimeout,
	}), retry)
}

// websocketHandler serves sessions on the hub and feeds their frames to the
// dispatcher.
func (a *app) websocketHandler() http.Handler {
	return ws.NewHandler(a.hub, ws.HandlerConfig{
		Authenticate: a.authenticate,
		OnMessage:    a.onMessage,
		Logger:       a.logger,
	})
}

func (a *app) authenticate(r *http.Request) (ws.Identity, error) {
	id, err := ws.QueryIdentity(r)
	if err != nil {
		return ws.Identity{}, err
	}
	info, err := a.worlds.World(id.WorldID)
	if err != nil {
		return ws.Identity{}, err
	}
	if id.Role == broadcast.RoleDM {
		if err := auth.CheckDMKey(id.WorldID, r.URL.Query().Get("key"), info.DMKeyHash); err != nil {
			a.logger.Warn("DM connection refused", "world_id", id.WorldID, "user_id", id.UserID, "code", errutil.Code(err))
			return ws.Identity{}, err
		}
	}
	if a.metrics != nil {
		a.metrics.ConnectionsTotal.WithLabelValues(string(id.Role)).Inc()
	}
	return id, nil
}

// onMessage logs only; the dispatcher already told the sender.
func (a *app) onMessage(ctx context.Context, id ws.Identity, data []byte) {
	sess := command.Session{WorldID: id.WorldID, UserID: id.UserID, Role: id.Role}
	if err := a.dispatcher.Dispatch(ctx, sess, data); err != nil {
		a.logger.DebugContext(ctx, "message rejected",
			"world_id", id.WorldID,
			"user_id", id.UserID,
			"code", errutil.Code(err))
	}
}

// startLoops runs every queue worker and timer until ctx is cancelled. The
// returned wait blocks until all of them have returned.
func (a *app) startLoops(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Go(func() {
			if err := fn(ctx); err != nil {
				errutil.LogErrorContext(ctx, a.logger, "background loop failed", err, "loop", name)
			}
		})
	}

	if n := a.janitor.Recover(ctx); n > 0 {
		a.logger.WarnContext(ctx, "released queue items abandoned by a previous run", "items", n)
	}

	s := a.services
	run(pipeline.QueuePlayerActions, s.Players.Worker(queue.WorkerConfig{Logger: a.logger}).Run)
	run(pipeline.QueueLLMRequests, s.LLM.Worker(queue.WorkerConfig{
		Concurrency: a.cfg.LLMConcurrency,
		Logger:      a.logger,
	}).Run)
	run(pipeline.QueueDMActions, s.DMActions.Worker(queue.WorkerConfig{Logger: a.logger}).Run)
	run(pipeline.QueueAssets, s.Assets.Worker(queue.WorkerConfig{
		Concurrency: a.cfg.AssetConcurrency,
		Logger:      a.logger,
	}).Run)
	run("approval-notifier", func(ctx context.Context) error {
		return s.Approvals.Run(ctx, a.cfg.NotifyInterval)
	})
	run("staging-scheduler", func(ctx context.Context) error {
		a.scheduler.Run(ctx)
		return nil
	})
	run("queue-janitor", func(ctx context.Context) error {
		a.janitor.Run(ctx)
		return nil
	})
	return wg.Wait
}

// close releases the rate limiter and the backend.
func (a *app) close() {
	a.limiter.Close()
	a.backend.close()
}
