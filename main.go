package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"finanalyst/blobstore"
	"finanalyst/chunker"
	"finanalyst/core"
	"finanalyst/db"
	"finanalyst/export"
	"finanalyst/extractor"
	"finanalyst/gateway"
	"finanalyst/httpapi"
	"finanalyst/logging"
	"finanalyst/pipeline"
	"finanalyst/qa"
	"finanalyst/shutdown"
	"finanalyst/vecindex"
)

// demoUserEmail is the account documents belong to in single-user
// deployments. Created on first start.
const demoUserEmail = "analyst@example.com"

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env if present; absence is normal in production.
	if err := godotenv.Load(); err != nil {
		fmt.Printf("no .env file loaded: %v\n", err)
	}
	isDevelopment := os.Getenv("DEV_MODE") == "true"

	logger, err := logging.NewLogger(isDevelopment, "finanalyst.log")
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	defer logger.Sync()

	cfg, err := core.LoadConfig()
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return core.ExitCodeConfig
	}
	if err := cfg.EnsureDirectories(); err != nil {
		logger.Error("failed to create data directories", zap.Error(err))
		return core.ExitCodeConfig
	}
	logger.Info("configuration loaded",
		zap.String("data_dir", cfg.DataDir),
		zap.String("llm_mode", cfg.LLMMode),
		zap.String("llm_model", cfg.LLMModel),
		zap.Int("port", cfg.Port),
		zap.Bool("dev_mode", isDevelopment))

	manager := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
	manager.Register("logger", 5, func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	conn, err := db.NewSQLiteConnectionWithDefaults(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		return core.ExitCodeError
	}
	manager.Register("database", 30, func(context.Context) error { return conn.Close() })
	if err := db.RunMigrations(conn); err != nil {
		logger.Error("failed to run migrations", zap.Error(err))
		manager.Shutdown()
		return core.ExitCodeError
	}
	store := db.NewStore(conn)

	// A document can only be in PROCESSING at startup if the previous process
	// died mid-job; its goroutine no longer exists.
	if recovered, err := store.RecoverInterruptedDocuments(manager.Context()); err != nil {
		logger.Warn("failed to recover interrupted documents", zap.Error(err))
	} else if recovered > 0 {
		logger.Warn("recovered documents interrupted by a previous shutdown",
			zap.Int("count", recovered))
	}

	ownerID, err := ensureDemoUser(manager.Context(), store)
	if err != nil {
		logger.Error("failed to create demo user", zap.Error(err))
		manager.Shutdown()
		return core.ExitCodeError
	}

	blobs, err := blobstore.NewFSStore(cfg.BlobDir)
	if err != nil {
		logger.Error("failed to open blob store", zap.Error(err))
		manager.Shutdown()
		return core.ExitCodeError
	}

	cache, err := gateway.NewCache(cfg.CacheDir)
	if err != nil {
		logger.Error("failed to open completion cache", zap.Error(err))
		manager.Shutdown()
		return core.ExitCodeError
	}
	modes, err := gateway.NewModeManager(
		gateway.ModeSettings{
			Mode:    gateway.Mode(cfg.LLMMode),
			Model:   cfg.LLMModel,
			BaseURL: cfg.LLMBaseURL,
		},
		gateway.ModeManagerConfig{
			Path:       cfg.LLMConfigPath,
			APIKey:     cfg.LLMAPIKey,
			EmbedModel: cfg.EmbedModel,
			EmbedDim:   cfg.EmbedDim,
			MockDelay:  cfg.MockDelay,
		},
		cache,
	)
	if err != nil {
		logger.Error("failed to initialize llm backend", zap.Error(err))
		manager.Shutdown()
		return core.ExitCodeError
	}
	gw := gateway.NewGateway(modes, cache, gateway.Config{
		Model:         cfg.LLMModel,
		Timeout:       cfg.LLMTimeout,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		EnableCaching: cfg.EnableCaching,
	}, logger)

	indexes, err := vecindex.NewManager(gw, vecindex.Config{
		Dir:       cfg.IndexDir,
		BatchSize: cfg.EmbedBatch,
	})
	if err != nil {
		logger.Error("failed to open index manager", zap.Error(err))
		manager.Shutdown()
		return core.ExitCodeError
	}

	tracker := shutdown.NewOperationTracker()
	manager.Register("processing-jobs", 20, func(ctx context.Context) error {
		tracker.Close()
		return tracker.Wait(cfg.ShutdownTimeout)
	})
	manager.Register("temp-files", 45, shutdown.CleanupTempFiles(logger, cfg.BlobDir, cfg.IndexDir))

	scheduler := pipeline.NewScheduler(pipeline.SchedulerConfig{
		Store:       store,
		Blobs:       blobs,
		Gateway:     gw,
		Indexes:     indexes,
		Extractor:   extractor.NewDefaultExtractor(),
		Chunker:     chunker.NewChunker(chunker.Config{TargetSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}),
		Registry:    pipeline.NewRegistry(),
		Tracker:     tracker,
		Logger:      logger,
		Model:       cfg.LLMModel,
		BaseContext: manager.Context(),
	})

	engine := qa.NewEngine(store, gw, indexes, qa.Config{TopK: cfg.RetrievalTopK}, cfg.LLMModel, logger)

	server := httpapi.NewServer(httpapi.ServerConfig{
		Store:     store,
		Blobs:     blobs,
		Scheduler: scheduler,
		Engine:    engine,
		Exporter:  export.NewExporter(store, blobs),
		Modes:     modes,
		Gateway:   gw,
		Indexes:   indexes,
		Logger:    logger,
		Config:    cfg,
		OwnerID:   ownerID,
	})

	manager.Start()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe(manager.Context())
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			manager.Shutdown()
			return core.ExitCodeError
		}
	case <-manager.Context().Done():
		<-serverErr
	}

	if err := manager.Shutdown(); err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
		return core.ExitCodeError
	}
	return core.ExitCodeSuccess
}

// ensureDemoUser creates the default account if it does not exist and
// returns its id.
func ensureDemoUser(ctx context.Context, store *db.Store) (string, error) {
	user, err := store.GetUserByEmail(ctx, demoUserEmail)
	if err != nil {
		return "", err
	}
	if user != nil {
		return user.ID, nil
	}

	password := os.Getenv("DEMO_USER_PASSWORD")
	if password == "" {
		password = "changeme"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	user = &core.User{
		Email:        demoUserEmail,
		PasswordHash: string(hash),
		FullName:     "Demo Analyst",
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return "", err
	}
	return user.ID, nil
}
