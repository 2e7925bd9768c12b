package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/archive"
	"github.com/Covault-Labs/covault/core/pkg/config"
	"github.com/Covault-Labs/covault/core/pkg/console"
	"github.com/Covault-Labs/covault/core/pkg/daovote"
	"github.com/Covault-Labs/covault/core/pkg/hostclock"
	"github.com/Covault-Labs/covault/core/pkg/identity"
	"github.com/Covault-Labs/covault/core/pkg/multisig"
	"github.com/Covault-Labs/covault/core/pkg/observability"
	"github.com/Covault-Labs/covault/core/pkg/policy"
	"github.com/Covault-Labs/covault/core/pkg/schema"
	"github.com/Covault-Labs/covault/core/pkg/substrate"
	"github.com/Covault-Labs/covault/core/pkg/upgrades"
	"github.com/Covault-Labs/covault/core/pkg/vault"
)

func runServe(stdout, stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := context.Background()

	profiles, err := config.LoadAllProfiles(cfg.ProfilesDir)
	if err != nil {
		logger.Error("profiles failed to load", "dir", cfg.ProfilesDir, "error", err)
		return 1
	}
	if len(profiles) == 0 {
		logger.Warn("no governance profiles found; accounts cannot be created", "dir", cfg.ProfilesDir)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store failed to open", "backend", cfg.StoreBackend, "error", err)
		return 1
	}
	defer closeStore()

	registry := vault.NewRegistry()
	multisig.RegisterCodecs(registry)
	daovote.RegisterCodecs(registry)
	upgrades.RegisterCodecs(registry)

	router := policy.NewRouter()
	payloads := schema.NewRegistry()
	if err := registerActionSchemas(payloads); err != nil {
		logger.Error("action schemas failed to compile", "error", err)
		return 1
	}

	opts := []substrate.RuntimeOption{
		substrate.WithAccountOptions(
			account.WithClock(hostclock.Wall{}),
			account.WithAdmissionHook(router),
			account.WithPayloadHook(payloads),
		),
	}
	if cfg.RedisAddr != "" {
		lease := substrate.NewRedisLease(cfg.RedisAddr, cfg.RedisPassword, 0)
		opts = append(opts, substrate.WithLease(lease, cfg.LeaseTTL))
		logger.Info("distributed lease enabled", "redis", cfg.RedisAddr, "ttl", cfg.LeaseTTL)
	}
	runtime := substrate.NewRuntime(store, registry, opts...)

	keeper, err := openArchive(ctx, cfg, logger)
	if err != nil {
		logger.Error("archive failed to open", "backend", cfg.ArchiveBackend, "error", err)
		return 1
	}

	var telemetry *observability.Provider
	if cfg.TelemetryEnabled {
		telemetry, err = observability.New(ctx, &observability.Config{
			ServiceName:    "covault-core",
			ServiceVersion: version,
			Environment:    envOr("ENVIRONMENT", "development"),
			OTLPEndpoint:   cfg.OTLPEndpoint,
			SampleRate:     1.0,
			Enabled:        true,
			Insecure:       true,
		})
		if err != nil {
			logger.Warn("telemetry disabled", "error", err)
			telemetry = nil
		} else {
			defer func() {
				if err := telemetry.Shutdown(context.Background()); err != nil {
					logger.Warn("telemetry shutdown", "error", err)
				}
			}()
		}
	}

	keys, err := identity.NewInMemoryKeySet()
	if err != nil {
		logger.Error("key set failed", "error", err)
		return 1
	}
	issuer := identity.NewIssuer(keys)
	operatorToken, err := issuer.Issue(identity.Principal{
		Addr:  envOr("OPERATOR_ADDR", "covault:addr:operator"),
		Roles: []string{"operator"},
	}, cfg.TokenTTL)
	if err != nil {
		logger.Error("operator token failed", "error", err)
		return 1
	}

	server, err := console.New(console.Options{
		Runtime:   runtime,
		Profiles:  profiles,
		Admission: router,
		Keeper:    keeper,
		Telemetry: telemetry,
		Verifier:  identity.NewVerifier(keys),
		Logger:    logger,
		RateRPS:   cfg.RateRPS,
		RateBurst: cfg.RateBurst,
	})
	if err != nil {
		logger.Error("console failed to build", "error", err)
		return 1
	}
	if err := server.Rehydrate(ctx); err != nil {
		logger.Error("admission rehydrate failed", "error", err)
		return 1
	}

	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		logger.Error("invalid port", "port", cfg.Port)
		return 1
	}

	fmt.Fprintf(stdout, "covault %s — store=%s archive=%s profiles=%d\n",
		version, cfg.StoreBackend, cfg.ArchiveBackend, len(profiles))
	fmt.Fprintf(stdout, "operator token (valid %s):\n  %s\n", cfg.TokenTTL, operatorToken)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(port) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server stopped", "error", err)
		return 1
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		return 0
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
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
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// openStore selects the substrate store from configuration. The returned
// closer is a no-op for backends without a handle to release.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (substrate.Store, func(), error) {
	switch cfg.StoreBackend {
	case "", "memory":
		logger.Info("store: in-memory (state is lost on restart)")
		return substrate.NewMemoryStore(), func() {}, nil
	case "sqlite":
		store, err := substrate.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("store: sqlite", "path", cfg.SQLitePath)
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		store, err := substrate.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("store: postgres")
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// openArchive selects the receipt archive. "none" runs without one;
// executed and expired intents then leave no retrievable trace.
func openArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*archive.Keeper, error) {
	switch cfg.ArchiveBackend {
	case "none":
		logger.Warn("archive disabled; receipts are not retained")
		return nil, nil
	case "", "file":
		store, err := archive.NewFileStore(cfg.ArchiveDir)
		if err != nil {
			return nil, err
		}
		logger.Info("archive: file", "dir", cfg.ArchiveDir)
		return archive.NewKeeper(store), nil
	case "s3":
		if cfg.ArchiveS3Bucket == "" {
			return nil, fmt.Errorf("ARCHIVE_S3_BUCKET is required for the s3 archive")
		}
		store, err := archive.NewS3Store(ctx, archive.S3Config{
			Bucket: cfg.ArchiveS3Bucket,
			Region: cfg.ArchiveS3Region,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("archive: s3", "bucket", cfg.ArchiveS3Bucket)
		return archive.NewKeeper(store), nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.ArchiveBackend)
	}
}

// registerActionSchemas installs structural schemas for the built-in
// action kinds. Payload bodies stay owned by their engine packages;
// the schemas only pin the envelope each kind must carry.
func registerActionSchemas(reg *schema.Registry) error {
	schemas := map[string]string{
		multisig.KindConfigUpdate: `{
			"type": "object",
			"required": ["next"],
			"properties": {"next": {"type": "object"}}
		}`,
		multisig.KindDepsUpdate: `{
			"type": "object",
			"required": ["records"],
			"properties": {
				"records": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"required": ["name", "addr", "version"]
					}
				}
			}
		}`,
		daovote.KindConfigUpdate: `{
			"type": "object",
			"required": ["next"],
			"properties": {"next": {"type": "object"}}
		}`,
		upgrades.KindUpgrade: `{
			"type": "object",
			"required": ["name", "digest", "upgrade_time"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"digest": {"type": "string", "minLength": 1}
			}
		}`,
		upgrades.KindRestrict: `{
			"type": "object",
			"required": ["name", "policy"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"policy": {"type": "integer"}
			}
		}`,
	}
	for kind, doc := range schemas {
		if err := reg.Register(kind, doc); err != nil {
			return err
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
