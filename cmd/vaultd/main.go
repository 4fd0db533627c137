package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tokenvault/config"
	"tokenvault/core/events"
	"tokenvault/observability/logging"
	telemetry "tokenvault/observability/otel"
	"tokenvault/rpc"
	"tokenvault/settlement"
	"tokenvault/storage"
	"tokenvault/vault"
)

type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	args := make([]any, 0, len(evt.Attributes)*2)
	for key, value := range evt.Attributes {
		args = append(args, key, value)
	}
	l.logger.Info(evt.Type, args...)
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "vaultd.toml", "path to vaultd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULTD_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(logging.Options{
		Service:    "vaultd",
		Env:        env,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTelemetry := func(context.Context) error { return nil }
	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdownTelemetry, err = telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "vaultd",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("initialise telemetry", "error", err)
			os.Exit(1)
		}
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	engine, buffer, err := buildEngine(cfg, db, logger)
	if err != nil {
		logger.Error("build engine", "error", err)
		os.Exit(1)
	}

	var auth *rpc.Authenticator
	if cfg.Auth.Enabled {
		logger.LogAttrs(context.Background(), slog.LevelInfo, "admin auth enabled",
			slog.String("issuer", cfg.Auth.Issuer),
			logging.MaskSecret("hmacSecret", cfg.Auth.HMACSecret))
		auth = rpc.NewAuthenticator(rpc.AuthConfig{
			Enabled:    true,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}, logger)
	}

	server := rpc.NewServer(engine, buffer, auth, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(server.Router(), "vaultd"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening", "address", cfg.ListenAddress, "backend", cfg.Backend)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown http server", "error", err)
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "vault.db"))
	default:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "vault"))
	}
}

func buildEngine(cfg *config.Config, db storage.Database, logger *slog.Logger) (*vault.Engine, *events.Buffer, error) {
	admin, err := cfg.AdminAddress()
	if err != nil {
		return nil, nil, err
	}
	globalCeiling, err := cfg.GlobalCeiling()
	if err != nil {
		return nil, nil, err
	}
	perWithdraw, err := cfg.PerWithdrawalCeiling()
	if err != nil {
		return nil, nil, err
	}

	gate := vault.NewAccessGate(admin)
	feeds := vault.NewPriceRegistry(gate)
	ledger, err := vault.NewLedger(vault.NewRefAmount(globalCeiling), vault.NewRefAmount(perWithdraw))
	if err != nil {
		return nil, nil, err
	}

	var transfers vault.TransferAdapter = settlement.NoopAdapter{}
	if strings.TrimSpace(cfg.SettlementURL) != "" {
		transfers = settlement.NewHTTPAdapter(cfg.SettlementURL)
	}

	engine, err := vault.NewEngine(gate, feeds, ledger, transfers)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStateStore(db)
	snap, found, err := store.LoadState()
	if err != nil {
		return nil, nil, err
	}
	if found {
		if err := engine.Restore(snap); err != nil {
			return nil, nil, err
		}
		logger.Info("restored vault state", "balances", len(snap.Balances), "paused", snap.Paused)
	}
	engine.SetCheckpointer(store)

	buffer := events.NewBuffer(512)
	engine.SetEmitter(events.Multi{buffer, logEmitter{logger: logger}})

	// Price sources are runtime handles; re-bind them from configuration on
	// every boot, including after a state restore.
	for _, asset := range cfg.Assets {
		symbol, err := vault.NormalizeAsset(asset.Symbol)
		if err != nil {
			return nil, nil, err
		}
		if err := engine.SetFeed(admin, symbol, vault.NewHTTPSource(asset.FeedURL), asset.Decimals); err != nil {
			return nil, nil, fmt.Errorf("configure feed %s: %w", symbol, err)
		}
	}

	return engine, buffer, nil
}
