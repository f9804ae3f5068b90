package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SynthEngine/internal/config"
	"SynthEngine/internal/engine"
	"SynthEngine/internal/event"
	"SynthEngine/internal/observability"
	"SynthEngine/internal/oracle"
	"SynthEngine/internal/persistence"
	"SynthEngine/internal/publisher"
	"SynthEngine/internal/query"
	"SynthEngine/internal/server"
	"SynthEngine/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// engineAddress is the engine's token-holder identity: collateral custody
// and the synth mint authority are bound to it.
var engineAddress = common.HexToAddress("0x00000000000000000000000000000000000000e1")

func main() {
	godotenv.Load()
	log := observability.NewLogger("synthengine")
	log.Info().Msg("synthengine starting")

	cfg, err := config.Load(os.Getenv("SYNTH_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- NATS ---
	nc, js, err := publisher.Connect(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Msg("nats connected")

	if err := publisher.EnsureStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Collateral assets ---
	// Token balances and price feeds are held in process: the ledgers act as
	// the custody accounts and the static feeds as operator-set oracles.
	assets := make([]common.Address, 0, len(cfg.Assets))
	feeds := make([]oracle.PriceFeed, 0, len(cfg.Assets))
	tokens := make([]token.Collateral, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets = append(assets, common.HexToAddress(a.Address))
		feeds = append(feeds, oracle.NewStaticFeed(big.NewInt(a.FeedPrice)))
		tokens = append(tokens, token.NewLedger(a.Symbol, engineAddress))
	}
	synth := token.NewLedger("sUSD", engineAddress)

	// --- Engine + audit fan-out ---
	auditChan := make(chan event.Envelope, cfg.AuditChanSize)

	eng, err := engine.New(
		engineAddress,
		assets,
		feeds,
		tokens,
		synth,
		observability.NewLogger("engine"),
		metrics,
		auditChan,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}

	// Resume the audit sequence past what previous runs persisted.
	latestSeq, err := persistence.NewAuditWriter(db).LatestSequence(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("read latest audit sequence")
	}
	eng.ResumeSequence(latestSeq)
	log.Info().Int64("sequence", latestSeq).Msg("audit sequence resumed")

	persistChan := make(chan event.Envelope, cfg.AuditChanSize)
	publishChan := make(chan event.Envelope, cfg.AuditChanSize)

	// --- Services ---
	queryService := query.NewService(eng, db)
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, eng, queryService, healthChecker,
		observability.NewLogger("http"), metrics)
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, observability.NewLogger("grpc"))

	auditWorker := persistence.NewAuditWorker(db, persistChan,
		cfg.PersistBatchSize, cfg.PersistFlushEvery,
		observability.NewLogger("persistence"), metrics)
	outbound := publisher.New(js, publishChan, observability.NewLogger("publisher"), metrics)

	// --- Goroutines ---
	// The fan-out is the sole sender on persistChan/publishChan and closes
	// them on its way out; the worker and publisher exit when their inputs
	// close, so shutdown is a drain, not a race.
	errChan := make(chan error, 8)
	workerDone := make(chan error, 1)

	go func() { workerDone <- auditWorker.Run(ctx) }()
	go func() { errChan <- outbound.Run(ctx) }()
	go func() { persistence.FanOutAudit(ctx, auditChan, persistChan, publishChan, metrics) }()
	go func() { errChan <- httpServer.Start(ctx) }()
	go func() { errChan <- grpcServer.Start(ctx) }()
	go func() { errChan <- serveMetrics(ctx, cfg.MetricsAddr, log) }()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Str("metrics", cfg.MetricsAddr).
		Int("assets", len(assets)).
		Msg("synthengine ready")

	// --- Wait for shutdown ---
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("component failed, shutting down")
		}
	}

	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	cancel()

	// The fan-out hands off committed records and closes the worker's
	// input; wait for the worker's final flush before exiting.
	select {
	case err := <-workerDone:
		if err != nil {
			log.Error().Err(err).Msg("audit worker exited with error")
		}
	case <-time.After(10 * time.Second):
		log.Warn().Msg("audit drain timed out")
	}

	log.Info().Msg("synthengine shutdown complete")
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
