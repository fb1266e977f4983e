package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sashabaranov/go-openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Malowking/MCP-Monitor/internal/auth"
	"github.com/Malowking/MCP-Monitor/internal/confirm"
	"github.com/Malowking/MCP-Monitor/internal/health"
	"github.com/Malowking/MCP-Monitor/internal/history"
	"github.com/Malowking/MCP-Monitor/internal/metrics"
	"github.com/Malowking/MCP-Monitor/internal/orchestrator"
	"github.com/Malowking/MCP-Monitor/internal/registry"
	"github.com/Malowking/MCP-Monitor/internal/router"
	"github.com/Malowking/MCP-Monitor/internal/rules"
	"github.com/Malowking/MCP-Monitor/internal/scoring"
	"github.com/Malowking/MCP-Monitor/internal/server"
	"github.com/Malowking/MCP-Monitor/internal/storage"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("MCP_MONITOR_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	port := envOrDefault("MCP_MONITOR_PORT", "8080")
	scoreTimeoutMs := envOrDefaultInt("MCP_MONITOR_SCORE_TIMEOUT_MS", 2000)
	confirmThreshold := envOrDefaultFloat("MCP_MONITOR_CONFIRM_THRESHOLD", 0.6)
	highThreshold := envOrDefaultFloat("MCP_MONITOR_HIGH_THRESHOLD", 0.8)
	pendingAgeMin := envOrDefaultInt("MCP_MONITOR_PENDING_AGE_MIN", 30)
	reaperIntervalS := envOrDefaultInt("MCP_MONITOR_REAPER_INTERVAL_S", 60)
	maxServices := envOrDefaultInt("MCP_MONITOR_MAX_SERVICES", orchestrator.DefaultMaxServices)
	registryCacheTTL := envOrDefaultInt("MCP_MONITOR_REGISTRY_CACHE_TTL_S", 60)
	authCacheTTL := envOrDefaultInt("MCP_MONITOR_AUTH_CACHE_TTL_S", 30)
	rulesPath := os.Getenv("MCP_MONITOR_RULES_PATH")
	blacklistPath := os.Getenv("MCP_MONITOR_BLACKLIST_PATH")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	weaviateURL := os.Getenv("WEAVIATE_URL")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	openaiBaseURL := os.Getenv("OPENAI_BASE_URL")
	chatModel := envOrDefault("MCP_MONITOR_CHAT_MODEL", openai.GPT4oMini)
	embedModel := envOrDefault("MCP_MONITOR_EMBED_MODEL", string(openai.SmallEmbedding3))

	logger.Info("starting mcp monitor server",
		zap.String("port", port),
		zap.Int("score_timeout_ms", scoreTimeoutMs),
		zap.Float64("confirm_threshold", confirmThreshold),
		zap.Float64("high_threshold", highThreshold),
	)

	if openaiKey == "" {
		logger.Fatal("OPENAI_API_KEY is required for drafting and embeddings")
	}
	aiCfg := openai.DefaultConfig(openaiKey)
	if openaiBaseURL != "" {
		aiCfg.BaseURL = openaiBaseURL
	}
	aiClient := openai.NewClientWithConfig(aiCfg)

	// Postgres, shared pool for all relational stores
	var db *sql.DB
	if postgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		logger.Info("postgres connected")
	} else {
		logger.Info("no POSTGRES_DSN set, using in-memory stores")
	}

	// Service registry
	var services registry.Store
	if db != nil {
		services = registry.NewCachedStore(registry.NewPostgresStore(db, logger),
			time.Duration(registryCacheTTL)*time.Second, logger)
	} else {
		services = registry.NewMemoryStore()
	}

	// Confirmation store
	var confirmStore confirm.Store
	if db != nil {
		confirmStore = confirm.NewPostgresStore(db, logger)
	} else {
		confirmStore = confirm.NewMemoryStore()
	}

	// Decision history: Postgres case store plus a vector index
	var caseStore history.CaseStore
	if db != nil {
		caseStore = history.NewPostgresCaseStore(db)
	} else {
		caseStore = history.NewMemoryCaseStore()
	}
	var index history.VectorIndex
	if weaviateURL != "" {
		client, err := buildWeaviateClient(weaviateURL)
		if err != nil {
			logger.Warn("weaviate unavailable, falling back to in-memory index",
				zap.String("url", weaviateURL), zap.Error(err))
			index = history.NewMemoryIndex()
		} else {
			wi := history.NewWeaviateIndex(client)
			if err := wi.EnsureSchema(context.Background()); err != nil {
				logger.Warn("weaviate schema setup failed, falling back to in-memory index",
					zap.Error(err))
				index = history.NewMemoryIndex()
			} else {
				index = wi
				logger.Info("weaviate index connected")
			}
		}
	} else {
		index = history.NewMemoryIndex()
		logger.Info("no WEAVIATE_URL set, using in-memory vector index")
	}
	retriever := history.NewRetriever(
		history.NewOpenAIEmbedder(aiClient, embedModel),
		index, caseStore, history.DefaultRetrieverConfig(), logger)

	// Rules
	ruleEngine, err := rules.NewEngine(rules.FileLoader(rulesPath, blacklistPath), logger)
	if err != nil {
		logger.Fatal("failed to load rules", zap.Error(err))
	}

	// Health monitoring and routing
	breakers := health.NewBreakerSet(health.DefaultBreakerConfig())
	monCfg := health.DefaultMonitorConfig()
	monCfg.CountExecutionFailures = envOrDefaultBool("MCP_MONITOR_COUNT_EXEC_FAILURES", false)
	monitor := health.NewMonitor(services, health.NewHTTPProber(5*time.Second),
		breakers, monCfg, logger)
	monitor.OnStateChange(func(service string, state health.State) {
		metrics.RecordBreakerChange(service, state.String())
	})
	rt := router.New(services, breakers, router.DefaultIntentKeywords(), logger)

	// Risk scoring
	thresholds := scoring.Thresholds{Confirmation: confirmThreshold, High: highThreshold}
	scorer := scoring.NewScorer(
		scoring.NewHistorySignal(retriever),
		scoring.NewRuleSignal(ruleEngine),
		scoring.NewBaseRiskSignal(),
		scoring.NewParameterSignal(),
		scoring.DefaultWeights(), thresholds,
		time.Duration(scoreTimeoutMs)*time.Millisecond, logger)

	// Confirmation lifecycle
	manager := confirm.NewManager(confirmStore,
		time.Duration(pendingAgeMin)*time.Minute, logger)

	// Decision events: ClickHouse or LogWriter fallback
	var events storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err))
			events = storage.NewLogWriter(logger)
		} else {
			events = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		events = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer events.Close()

	// User preferences
	var prefs orchestrator.PreferenceStore
	if db != nil {
		prefs = orchestrator.NewPostgresPreferenceStore(db)
	} else {
		prefs = orchestrator.NewMemoryPreferenceStore()
	}

	orch := orchestrator.New(orchestrator.Deps{
		Router:        rt,
		Scorer:        scorer,
		Confirmations: manager,
		History:       retriever,
		Services:      services,
		Monitor:       monitor,
		Prefs:         prefs,
		Drafts:        orchestrator.NewOpenAIDraftGenerator(aiClient, chatModel, logger),
		Rules:         ruleEngine,
		Events:        events,
		Stats:         metrics.NewCallStats(),
		Thresholds:    thresholds,
		MaxServices:   maxServices,
		Logger:        logger,
	})

	// Auth: Postgres if DSN provided, otherwise static
	var authenticator auth.Authenticator
	if db != nil {
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(authCacheTTL) * time.Second,
			FailOpen: true,
			Logger:   logger,
		})
		logger.Info("postgres authenticator connected")
	} else {
		authenticator = auth.NewStaticAuthenticator()
		logger.Info("using static authenticator (no POSTGRES_DSN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go monitor.Run(ctx)
	go manager.RunReaper(ctx, time.Duration(reaperIntervalS)*time.Second)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           server.New(orch, authenticator, logger).Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("mcp monitor server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func buildWeaviateClient(rawURL string) (*weaviate.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("parse weaviate url %q: %v", rawURL, err)
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: scheme})
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
