package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RebalancePool/internal/config"
	"RebalancePool/internal/core"
	"RebalancePool/internal/event"
	"RebalancePool/internal/ingestion"
	"RebalancePool/internal/observability"
	"RebalancePool/internal/persistence"
	"RebalancePool/internal/projection"
	"RebalancePool/internal/query"
	"RebalancePool/internal/scheduler"
	"RebalancePool/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	replayPageSize  = 1000
	warmLRUKeys     = 100_000
	inboundChanSize = 4096
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "rebalancepool",
		Short:        "Rebalance pool ledger service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/rebalancepool.yaml", "path to YAML config")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Recover state and serve commands, queries and metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "validate-config",
		Short: "Check the config file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadConfig(configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// snapshotRequest asks the core loop for a consistent copy of engine state.
type snapshotRequest struct {
	resp chan *core.SnapshotState
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := observability.NewLoggerWithOptions("main", observability.LogOptions{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	componentLogger := func(name string) zerolog.Logger {
		return logger.With().Str("component", name).Logger()
	}
	logger.Info().Msg("RebalancePool starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tokens, err := cfg.TokenRegistry()
	if err != nil {
		return err
	}
	engineCfg, err := cfg.EngineConfig(tokens)
	if err != nil {
		return err
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	healthChecker.SetCheck("postgres", true)
	logger.Info().Msg("Postgres connected")

	if err := persistence.NewMigrator(db, cfg.MigrationsDir, componentLogger("migrate")).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	// --- Channels ---
	// Persist channel blocks (backpressure); projection channel drops.
	persistChan := make(chan core.CoreOutput, cfg.Pipeline.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Pipeline.ProjectionChanSize)
	recordChan := make(chan persistence.Record, cfg.Pipeline.PersistChanSize)
	publishChan := make(chan ingestion.PublishableEvent, inboundChanSize)
	cmdChan := make(chan event.Command, inboundChanSize)
	snapReqChan := make(chan snapshotRequest)

	engine, err := core.NewEngine(engineCfg, 0, persistChan, projectionChan, dbChecker, metrics, componentLogger("core"))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	// Projections follow replay too; upserts are guarded by sequence.
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, componentLogger("projection"))
	go func() {
		if err := projWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("projection worker stopped")
		}
	}()

	// --- Recovery: snapshot + replay ---
	if err := recoverEngine(ctx, engine, snapMgr, dbChecker, logger); err != nil {
		return err
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, componentLogger("nats"), func(connected bool) {
		healthChecker.SetCheck("nats", connected)
	})
	if err != nil {
		return err
	}
	defer nc.Close()
	healthChecker.SetCheck("nats", true)

	if err := ingestion.EnsureStreams(ctx, js, componentLogger("nats")); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, componentLogger("nats")); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	parser, err := ingestion.NewParser(tokens, engineCfg.Pool.PrincipalToken, engineCfg.Pool.CollateralToken)
	if err != nil {
		return err
	}

	rawChan := make(chan ingestion.RawCommand, inboundChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, componentLogger("ingestion"))
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	// --- Snapshot trigger shared by admin API, scheduler and shutdown ---
	takeSnapshot := func(ctx context.Context) (int64, error) {
		req := snapshotRequest{resp: make(chan *core.SnapshotState, 1)}
		select {
		case snapReqChan <- req:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		var snap *core.SnapshotState
		select {
		case snap = <-req.resp:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		return saveSnapshot(ctx, snapMgr, snap, metrics)
	}

	queryService, err := query.NewQueryService(db, tokens, engineCfg.Pool.PrincipalToken)
	if err != nil {
		return err
	}

	srv := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		DB:            db,
		QueryService:  queryService,
		InjectService: ingestion.NewInjectService(parser, cmdChan),
		SnapshotMgr:   snapMgr,
		TakeSnapshot:  takeSnapshot,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        componentLogger("server"),
		StartTime:     time.Now(),
	})

	sched := scheduler.NewScheduler(ctx, takeSnapshot, snapMgr, componentLogger("scheduler"))
	if err := sched.RegisterAll(cfg.Snapshot.Cron, cfg.Snapshot.VerifyCron); err != nil {
		return err
	}

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	// 1. Persistence worker. Runs on its own context so it can drain after shutdown.
	persistCtx, persistCancel := context.WithCancel(context.Background())
	defer persistCancel()
	persistWorker := persistence.NewPersistenceWorker(db, recordChan, cfg.Pipeline.PersistBatchSize,
		cfg.Pipeline.PersistFlushTimeout, metrics, componentLogger("persistence"))
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(persistCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("persistence worker stopped")
		}
	}()

	// 2. Core output bridge: core → records + outbound events
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridgeCoreOutputs(persistChan, recordChan, publishChan, metrics, componentLogger("bridge"))
	}()

	// 3. Outbound publisher
	publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, componentLogger("publisher"))
	go func() {
		if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("publisher: %w", err)
		}
	}()

	// 4. NATS → parser → core channel
	go runIngestionLoop(ctx, rawChan, parser, cmdChan, metrics, componentLogger("ingestion"))

	// 5. Core loop: the only goroutine touching the engine
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		runCoreLoop(ctx, engine, cmdChan, snapReqChan, componentLogger("core"))
	}()

	// 6. gRPC server and HTTP gateway
	go func() {
		if err := srv.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		if err := srv.StartHTTPGateway(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	// 7. Prometheus metrics server
	go func() {
		if err := serveMetrics(ctx, cfg.Server.MetricsAddr, logger); err != nil {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 8. Channel depth sampling
	go sampleChannels(ctx, metrics, map[string]func() (int, int){
		"persist":    func() (int, int) { return len(persistChan), cap(persistChan) },
		"projection": func() (int, int) { return len(projectionChan), cap(projectionChan) },
		"records":    func() (int, int) { return len(recordChan), cap(recordChan) },
		"inbound":    func() (int, int) { return len(cmdChan), cap(cmdChan) },
		"publish":    func() (int, int) { return len(publishChan), cap(publishChan) },
	})

	sched.Start()
	healthChecker.SetReady(true)

	logger.Info().
		Int64("sequence", engine.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("RebalancePool ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, let the core finish, drain persistence, then snapshot.
	healthChecker.SetReady(false)
	cancel()
	sched.Stop()
	subscriber.Stop()
	<-coreDone

	close(persistChan)
	<-bridgeDone
	<-persistDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if engine.GetSequence() > 0 {
		if seq, err := saveSnapshot(shutdownCtx, snapMgr, engine.CreateSnapshotState(), metrics); err != nil {
			logger.Error().Err(err).Msg("final snapshot failed")
		} else {
			logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
		}
		if _, err := snapMgr.VerifyPending(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("final snapshot verification failed")
		}
	}

	logger.Info().Msg("RebalancePool shutdown complete")
	return runErr
}

// recoverEngine restores the latest verified snapshot, replays the command
// log after it, and warms the dedup cache.
func recoverEngine(
	ctx context.Context,
	engine *core.Engine,
	snapMgr *persistence.SnapshotManager,
	dbChecker *persistence.PostgresIdempotencyChecker,
	logger zerolog.Logger,
) error {
	from := int64(0)

	stored, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying full log")
	}
	if stored != nil {
		snap, err := stored.Decode()
		if err != nil {
			return fmt.Errorf("decode snapshot %d: %w", stored.Sequence, err)
		}
		if err := engine.RestoreFromSnapshot(snap); err != nil {
			return err
		}
		from = snap.Sequence + 1
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no verified snapshot, cold start from sequence 0")
	}

	start := time.Now()
	var replayed int64
	for {
		rows, err := snapMgr.LoadCommandsFrom(ctx, from, replayPageSize)
		if err != nil {
			return fmt.Errorf("load commands from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			cmd, err := row.Command()
			if err != nil {
				return err
			}
			var hash [32]byte
			copy(hash[:], row.StateHash)
			if err := engine.ReplayCommand(cmd, row.Sequence, hash); err != nil {
				return err
			}
			replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}
	if replayed > 0 {
		logger.Info().
			Int64("commands", replayed).
			Int64("sequence", engine.GetSequence()).
			Dur("took", time.Since(start)).
			Msg("replayed command log")
	}

	keys, err := dbChecker.RecentKeys(ctx, warmLRUKeys)
	if err != nil {
		logger.Warn().Err(err).Msg("LRU warm-up skipped")
		return nil
	}
	engine.WarmLRU(keys)
	return nil
}

// bridgeCoreOutputs flattens core outputs into event log records (blocking)
// and outbound events (dropped when the publisher lags).
func bridgeCoreOutputs(
	in <-chan core.CoreOutput,
	records chan<- persistence.Record,
	publish chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	defer close(records)
	for output := range in {
		rec, err := persistence.NewRecord(output.Envelope, output.Batch)
		if err != nil {
			// Encoding is deterministic; a failure here means the log would lose a command.
			logger.Fatal().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("cannot encode record")
		}
		records <- rec

		events, err := ingestion.PublishablesFromEnvelope(output.Envelope)
		if err != nil {
			logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("skip outbound events")
			continue
		}
		for _, evt := range events {
			select {
			case publish <- evt:
			default:
				metrics.PublishDrops.Inc()
			}
		}
	}
}

// runIngestionLoop parses raw NATS messages and forwards them to the core.
// Messages are acked after the channel send, not after core processing;
// unparseable messages are acked and dropped.
func runIngestionLoop(
	ctx context.Context,
	rawChan <-chan ingestion.RawCommand,
	parser *ingestion.Parser,
	cmdChan chan<- event.Command,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-rawChan:
			cmd, err := parser.ParseRaw(raw)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("drop invalid command")
				raw.AckFunc()
				continue
			}

			select {
			case cmdChan <- cmd:
				raw.AckFunc()
				metrics.NATSPullLatency.WithLabelValues(raw.CommandType).Observe(time.Since(raw.ReceivedAt).Seconds())
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}

// runCoreLoop is the single goroutine driving the engine.
func runCoreLoop(
	ctx context.Context,
	engine *core.Engine,
	cmdChan <-chan event.Command,
	snapReqs <-chan snapshotRequest,
	logger zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-cmdChan:
			if err := engine.ProcessCommand(cmd); err != nil {
				logger.Info().Err(err).
					Str("command_type", cmd.CommandType().String()).
					Str("key", cmd.IdempotencyKey()).
					Msg("command rejected")
			}
		case req := <-snapReqs:
			req.resp <- engine.CreateSnapshotState()
		}
	}
}

func saveSnapshot(ctx context.Context, snapMgr *persistence.SnapshotManager, snap *core.SnapshotState, metrics *observability.Metrics) (int64, error) {
	start := time.Now()
	size, err := snapMgr.SaveSnapshot(ctx, persistence.EncodeSnapshot(snap, time.Now().UTC()))
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotSizeBytes.Set(float64(size))
	metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	return snap.Sequence, nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func sampleChannels(ctx context.Context, metrics *observability.Metrics, chans map[string]func() (int, int)) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, probe := range chans {
				size, capacity := probe()
				metrics.ChannelSize.WithLabelValues(name).Set(float64(size))
				metrics.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
			}
		}
	}
}
