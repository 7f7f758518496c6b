// Command provenanced runs the provenance ledger service: canonical
// event ingestion, verification replay, and proof issuance over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/veristone/provenance-core/pkg/api"
	"github.com/veristone/provenance-core/pkg/config"
	"github.com/veristone/provenance-core/pkg/crypto"
	"github.com/veristone/provenance-core/pkg/ledger"
	"github.com/veristone/provenance-core/pkg/observability"
	"github.com/veristone/provenance-core/pkg/policy"
	"github.com/veristone/provenance-core/pkg/proof"
	"github.com/veristone/provenance-core/pkg/valuation"
	"github.com/veristone/provenance-core/pkg/verification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration load failed", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, dialect, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	entries := ledger.NewStore(db, dialect)
	if err := entries.Init(ctx); err != nil {
		return err
	}
	states := verification.NewStateStore(db, dialect)
	if err := states.Init(ctx); err != nil {
		return err
	}
	views := proof.NewStore(db, dialect)
	if err := views.Init(ctx); err != nil {
		return err
	}

	signer, err := crypto.NewEd25519Signer(cfg.SignerSeed)
	if err != nil {
		return err
	}
	validator, err := ledger.NewEnvelopeValidator()
	if err != nil {
		return err
	}

	registry := ledger.NewRegistry()
	ingest := ledger.NewService(entries, signer, registry, logger)
	verifier := verification.NewService(entries, states, registry, logger)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		verifier = verifier.WithCache(verification.NewRedisCache(client, cfg.CacheTTL))
		logger.Info("derived-state cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	}
	proofs := proof.NewService(views, entries, registry, verifier, logger)
	rebuilder := verification.NewRebuilder(entries, states, registry, logger)
	gate := policy.NewGate(ingest, verifier, logger)

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "provenance-core",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       cfg.Environment != config.EnvProduction,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	if cfg.RebuildOnStart {
		result, err := rebuilder.Rebuild(ctx)
		if err != nil {
			return err
		}
		logger.Info("startup rebuild complete", "rebuilt_assets", result.RebuiltAssets)
	}

	limiter := api.NewSourceLimiter(cfg.IngestRatePerSec, cfg.IngestBurst)
	defer limiter.Close()

	server := api.NewServer(api.ServerDeps{
		Gate:           gate,
		Valuations:     valuation.NewFilter(ingest, logger),
		Entries:        entries,
		Verifier:       verifier,
		Proofs:         proofs,
		Rebuilder:      rebuilder,
		Validator:      validator,
		Signer:         signer,
		Limiter:        limiter,
		Telemetry:      telemetry,
		AdminKey:       cfg.AdminKey,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("provenance ledger listening",
			"port", cfg.Port, "network_id", cfg.NetworkID, "signer_key", signer.KeyID())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openDatabase(cfg *config.Config) (*sql.DB, ledger.Dialect, error) {
	if cfg.IsPostgres() {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		db.SetMaxOpenConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		return db, ledger.DialectPostgres, nil
	}
	db, err := sql.Open("sqlite", cfg.SQLiteDSN())
	if err != nil {
		return nil, "", err
	}
	// modernc sqlite serializes per connection; one connection keeps the
	// advisory-lock stand-in honest.
	db.SetMaxOpenConns(1)
	return db, ledger.DialectSQLite, nil
}
