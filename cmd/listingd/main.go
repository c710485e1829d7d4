package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"homeescrow/config"
	"homeescrow/core/events"
	"homeescrow/core/identity"
	"homeescrow/core/state"
	"homeescrow/integrations/webhooks"
	nativecommon "homeescrow/native/common"
	"homeescrow/native/listing"
	"homeescrow/observability"
	"homeescrow/observability/logging"
	telemetry "homeescrow/observability/otel"
	"homeescrow/rpc"
	"homeescrow/storage"
	"homeescrow/storage/audit"
)

const operatorPassEnv = "HOME_ESCROW_KEYSTORE_PASS"

func main() {
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "export":
			err = runExport(os.Args[2:], os.Stdout)
		case "keygen":
			err = runKeygen(os.Args[2:], os.Stdout)
		case "token":
			err = runToken(os.Args[2:], os.Stdout)
		default:
			if !strings.HasPrefix(os.Args[1], "-") {
				fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
				os.Exit(2)
			}
			err = runDaemon(os.Args[1:])
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		return
	}
	if err := runDaemon(nil); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runDaemon(args []string) error {
	fs := flag.NewFlagSet("listingd", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logOpts := logging.Options{Service: "listingd", Env: cfg.Environment, Level: cfg.Log.Level}
	var logFile io.WriteCloser
	if path := strings.TrimSpace(cfg.Log.File); path != "" {
		logFile = logging.RotatingFile(logging.FileOptions{
			Path:       cfg.ResolvePath(path),
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		defer logFile.Close()
		logOpts.Output = io.MultiWriter(os.Stdout, logFile)
	}
	logger := logging.Setup(logOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "listingd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := storage.NewLevelDB(cfg.ResolvePath("state"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	manager, err := openState(cfg, db)
	if err != nil {
		return err
	}
	allocs, err := cfg.GenesisAllocations()
	if err != nil {
		return err
	}
	applied, err := manager.ApplyAllocations(allocs)
	if err != nil {
		return fmt.Errorf("apply allocations: %w", err)
	}
	if applied {
		logger.Info("genesis allocations applied", slog.Int("accounts", len(allocs)))
	}

	engine, pauses, err := buildEngine(cfg, manager)
	if err != nil {
		return err
	}

	broadcaster := events.NewBroadcaster(0)
	emitters := events.Multi{broadcaster, observability.Events()}
	opts := []rpc.Option{
		rpc.WithLogger(logger),
		rpc.WithBroadcaster(broadcaster),
		rpc.WithPauseSwitch(pauses),
	}

	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.Driver, auditDSN(cfg), logger)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer store.Close()
		if bad, err := store.Verify(); err != nil {
			logger.Error("audit chain verification failed", slog.Int("record", bad), slog.Any("error", err))
		}
		emitters = append(emitters, store)
		opts = append(opts, rpc.WithAuditStore(store))
	}

	if endpoint := strings.TrimSpace(cfg.Webhook.Endpoint); endpoint != "" {
		secret := strings.TrimSpace(os.Getenv(cfg.Webhook.SecretEnv))
		dispatcher, err := webhooks.New(webhooks.Config{
			Endpoint: endpoint,
			Secret:   []byte(secret),
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("configure webhook: %w", err)
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
	}
	engine.SetEmitter(emitters)

	server, err := rpc.NewServer(engine, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		},
		RateLimit: rpc.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		CallerMetadataMaxTTL: time.Hour,
		CallerQuota: nativecommon.Quota{
			MaxRequests:   cfg.RateLimit.MutationsPerMinute,
			WindowSeconds: 60,
		},
	}, opts...)
	if err != nil {
		return fmt.Errorf("build rpc server: %w", err)
	}

	logger.Info("listingd starting",
		slog.String("rpc_address", cfg.RPCAddress),
		slog.String("data_dir", cfg.DataDir),
		slog.Bool("auth", cfg.Auth.Enabled),
		slog.Bool("audit", cfg.Audit.Enabled))
	if err := server.Start(ctx, cfg.RPCAddress); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	logger.Info("listingd stopped")
	return nil
}

func openState(cfg *config.Config, db storage.Database) (*state.Manager, error) {
	vault, err := cfg.Vault()
	if err != nil {
		return nil, err
	}
	manager, err := state.NewManager(db, vault)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return manager, nil
}

func buildEngine(cfg *config.Config, manager *state.Manager) (*listing.Engine, *nativecommon.PauseSwitch, error) {
	params, err := cfg.ListingParams()
	if err != nil {
		return nil, nil, err
	}
	engine := listing.NewEngine()
	if err := engine.SetParams(params); err != nil {
		return nil, nil, err
	}
	engine.SetState(manager)

	var paused []string
	if cfg.Pauses.Listing {
		paused = append(paused, listing.ModuleName)
	}
	pauses := nativecommon.NewPauseSwitch(paused...)
	engine.SetPauses(pauses)

	issuer, err := buildIssuer(cfg)
	if err != nil {
		return nil, nil, err
	}
	engine.SetIdentifierService(issuer)
	return engine, pauses, nil
}

func buildIssuer(cfg *config.Config) (listing.IdentifierService, error) {
	endpoint := strings.TrimSpace(cfg.Identity.Endpoint)
	if endpoint == "" {
		return identity.RandomIssuer{}, nil
	}
	var opts []identity.Option
	if env := strings.TrimSpace(cfg.Identity.TokenEnv); env != "" {
		opts = append(opts, identity.WithBearerToken(os.Getenv(env)))
	}
	issuer, err := identity.NewHTTPIssuer(endpoint, opts...)
	if err != nil {
		return nil, err
	}
	return issuer, nil
}

// auditDSN places relative sqlite files inside the data directory.
func auditDSN(cfg *config.Config) string {
	dsn := strings.TrimSpace(cfg.Audit.DSN)
	if !strings.EqualFold(cfg.Audit.Driver, audit.DriverSQLite) || !strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	rest := strings.TrimPrefix(dsn, "file:")
	path, query, _ := strings.Cut(rest, "?")
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return dsn
	}
	resolved := "file:" + cfg.ResolvePath(path)
	if query != "" {
		resolved += "?" + query
	}
	return resolved
}
