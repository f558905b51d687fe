package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	inbhttp "github.com/velro/authz-core/internal/adapter/inbound/http"
	"github.com/velro/authz-core/internal/adapter/outbound/audit"
	"github.com/velro/authz-core/internal/adapter/outbound/cachewarmer"
	"github.com/velro/authz-core/internal/adapter/outbound/cel"
	outboundidentity "github.com/velro/authz-core/internal/adapter/outbound/identity"
	"github.com/velro/authz-core/internal/adapter/outbound/memory"
	"github.com/velro/authz-core/internal/adapter/outbound/redisstore"
	"github.com/velro/authz-core/internal/adapter/outbound/signer"
	"github.com/velro/authz-core/internal/adapter/outbound/sqlstore"
	"github.com/velro/authz-core/internal/config"
	domainaudit "github.com/velro/authz-core/internal/domain/audit"
	"github.com/velro/authz-core/internal/domain/ratelimit"
	"github.com/velro/authz-core/internal/service/auditpipeline"
	"github.com/velro/authz-core/internal/service/cacheengine"
	"github.com/velro/authz-core/internal/service/gate"
	"github.com/velro/authz-core/internal/service/layers"
	"github.com/velro/authz-core/internal/service/orchestrator"
	"github.com/velro/authz-core/internal/service/ttlmanager"
	"github.com/velro/authz-core/internal/service/warming"
)

var devMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the authorization core server",
	Long: `Start the authz-core server: the Request Pipeline Gate in front of the
ten-layer Authorization Orchestrator, backed by the Hierarchical Cache
Core and the audit pipeline.

Examples:
  # Start with config file settings
  authz-core start

  # Start in development mode (permissive defaults, debug logging)
  authz-core start --dev`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (permissive defaults, debug logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}

	cfg.SetDevDefaults()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("authz-core stopped")
	return nil
}

// run wires every component together and blocks until ctx is cancelled.
// It implements the boot sequence: BOOT-01 through BOOT-09.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	// ===== BOOT-01: relational store (Postgres via pgx) =====
	poolCfg, err := pgxpool.ParseConfig(cfg.Relational.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse relational DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.Relational.MaxConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to create relational pool: %w", err)
	}
	defer pool.Close()
	if cfg.Relational.WarmupQuery {
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("relational warmup query failed", "error", err)
		} else {
			logger.Debug("relational pool warmed up")
		}
	}
	store := sqlstore.New(pool)
	logger.Info("relational store connected", "max_conns", cfg.Relational.MaxConns)

	// ===== BOOT-02: shared L2 store (Redis) =====
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed at startup, continuing degraded", "error", err)
	}
	l2 := redisstore.New(redisClient)
	generations := redisstore.NewGenerationStore(redisClient)
	allowList := redisstore.NewAllowListChecker(redisClient)
	siemSink := redisstore.NewSIEMSink(redisClient)
	correlationFeed := redisstore.NewCorrelationFeed(redisClient, time.Duration(cfg.Audit.RetentionDays)*24*time.Hour)

	limits := rateLimitsFromConfig(cfg.RateLimit.Limits)
	rateLimiter := redisstore.NewRateLimiter(redisClient).WithLimits(limits)

	// ===== BOOT-03: Hierarchical Cache Core =====
	hotKeys := memory.NewHotKeyStore(cfg.Cache.HotKeyCapacity)
	l1 := memory.NewL1Cache(int64(cfg.Cache.L1MemoryBudgetMiB) << 20)
	ttlMgr := ttlmanager.New(cfg.Cache.OverallHitRateTarget, logger)

	// The cache engine, the warming planner and the warmer are mutually
	// referential (engine notifies planner, planner dispatches back
	// through the engine) -- build the warmer with no engine yet, then
	// wire it in once the engine exists.
	warmer := cachewarmer.New(nil, store, store, store, logger)
	planner := warming.New(warmer, logger)
	reg := prometheus.NewRegistry()
	cacheMetrics := cacheengine.NewMetrics(reg)
	engine := cacheengine.New(hotKeys, l1, l2, generations, ttlMgr, planner, cacheMetrics, logger)
	warmer.SetEngine(engine)
	logger.Info("cache engine wired", "l1_budget_mib", cfg.Cache.L1MemoryBudgetMiB, "hot_key_capacity", cfg.Cache.HotKeyCapacity)

	// ===== BOOT-04: risk scoring, identity and signer =====
	riskScorer, err := cel.NewRiskScorer(cel.DefaultFactors, logger)
	if err != nil {
		return fmt.Errorf("failed to build risk scorer: %w", err)
	}

	identityValidator := outboundidentity.NewValidator([]byte(cfg.Identity.Secret), cfg.Identity.CacheTTL)

	signerGuard := signer.NewGuard(cfg.Signer.AllowedHosts)
	mediaSigner := signer.New(cfg.Signer.BaseURL, []byte(cfg.Signer.Secret), signerGuard)

	// ===== BOOT-05: audit pipeline =====
	fileSink, err := audit.NewFileAuditStore(audit.AuditFileConfig{
		Dir:           cfg.Audit.FileDir,
		RetentionDays: cfg.Audit.RetentionDays,
		MaxFileSizeMB: cfg.Audit.FileMaxSizeMB,
		CacheSize:     1000,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit file store: %w", err)
	}
	defer func() { _ = fileSink.Close() }()

	sinks := []domainaudit.Sink{fileSink, siemSink}
	if cfg.DevMode {
		sinks = append(sinks, memory.NewStructuredLogSinkWithWriter(os.Stderr))
	}
	pipeline := auditpipeline.New(sinks, logger,
		auditpipeline.WithChannelSize(cfg.Audit.ChannelSize),
		auditpipeline.WithSendTimeout(cfg.Audit.SendTimeout),
		auditpipeline.WithBatchSize(cfg.Audit.SIEMBatchSize),
	)
	pipeline.Start(ctx)
	defer pipeline.Stop()

	var trackedPrincipals, trackedIPs []string
	correlator := auditpipeline.NewCorrelator(correlationFeed, func(alert *domainaudit.Alert) {
		logger.Warn("correlation alert",
			"kind", alert.Kind,
			"severity", alert.Severity,
			"principals", alert.AffectedPrincipals,
			"resources", alert.AffectedResources,
		)
	}, logger)
	correlator.Start(ctx, time.Minute, func() []string { return trackedPrincipals }, func() []string { return trackedIPs })
	defer correlator.Stop()

	// ===== BOOT-06: the ten orchestrator layers =====
	inputValidation := layers.NewInputValidation(cfg.InputValidation.Strict)
	rateLimiting := layers.NewRateLimiting(rateLimiter)
	contextValidation := layers.NewContextValidation(riskScorer)
	accessControl := layers.NewAccessControl(store, store, store)
	inheritance := layers.NewInheritance(store, store, store)
	depthGuard := layers.NewInheritanceDepthGuard(store, cfg.Inheritance.MaxDepth)
	mediaAuthorization := layers.NewMediaAuthorization(mediaSigner)
	auditEmission := layers.NewAuditEmission(pipeline)
	anomalyCorrelation := layers.NewAnomalyCorrelation(correlator)
	emergencyRecovery := layers.NewEmergencyRecovery(store, store)

	orch := orchestrator.New(
		inputValidation,
		rateLimiting,
		contextValidation,
		accessControl,
		inheritance,
		depthGuard,
		mediaAuthorization,
		auditEmission,
		anomalyCorrelation,
		emergencyRecovery,
		logger,
		orchestrator.WithChainDeadline(cfg.Server.ChainDeadline),
		orchestrator.WithDecisionCache(engine),
	)

	// ===== BOOT-07: Request Pipeline Gate =====
	fastLane := gate.NewFastLane(allowList)
	g := gate.New(fastLane, orch, logger,
		gate.WithFastLanePrefixes(cfg.FastLanePrefixes),
		gate.WithMaxBodyBytes(cfg.InputValidation.MaxBodyBytes),
	)

	// ===== BOOT-08: HTTP transport =====
	sessionStore := memory.NewSessionStore()
	sessionStore.StartCleanup(ctx)
	defer sessionStore.Stop()

	memRateLimiter := memory.NewRateLimiter()
	healthChecker := inbhttp.NewHealthChecker(sessionStore, memRateLimiter, pipeline, Version)

	transport := inbhttp.NewHTTPTransport(g,
		inbhttp.WithAddr(cfg.Server.HTTPAddr),
		inbhttp.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile),
		inbhttp.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		inbhttp.WithLogger(logger),
		inbhttp.WithIdentityValidator(identityValidator),
		inbhttp.WithHealthChecker(healthChecker),
	)

	logger.Info("authz-core starting",
		"addr", cfg.Server.HTTPAddr,
		"dev_mode", cfg.DevMode,
		"boot_duration", time.Since(startTime),
	)

	// ===== BOOT-09: serve until shutdown =====
	return transport.Start(ctx)
}

func rateLimitsFromConfig(limits map[string]config.RateLimitRule) map[ratelimit.Scope]ratelimit.Limits {
	out := make(map[ratelimit.Scope]ratelimit.Limits, len(limits))
	for scope, rule := range limits {
		out[ratelimit.Scope(scope)] = ratelimit.Limits{
			Scope:  ratelimit.Scope(scope),
			Rate:   rule.Requests,
			Window: rule.Window,
		}
	}
	return out
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
