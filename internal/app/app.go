// Package app wires together the Store, LLM Client, Batch Processor,
// Worker Pool, and Intake Port into a single runnable composition root,
// the way cmd/topicforge-server expects to consume it.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/topicforge/internal/batchproc"
	"github.com/bobmcallan/topicforge/internal/common"
	"github.com/bobmcallan/topicforge/internal/interfaces"
	"github.com/bobmcallan/topicforge/internal/intake"
	"github.com/bobmcallan/topicforge/internal/llm"
	"github.com/bobmcallan/topicforge/internal/store/sqlite"
	"github.com/bobmcallan/topicforge/internal/workerpool"
)

// App holds every initialized component and is the shared core used by
// cmd/topicforge-server.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Store       interfaces.Store
	LLMClient   interfaces.LLMClient
	Processor   interfaces.BatchProcessor
	WorkerPool  *workerpool.Pool
	Intake      interfaces.Intake
	StartupTime time.Time
}

// getBinaryDir returns the directory containing the executable, used to
// resolve config and store paths relative to a self-contained install.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes configuration, logging, the Store, the LLM client
// (if credentials are configured), the Batch Processor, Worker Pool, and
// Intake Port. configPath may be empty, in which case
// TOPICFORGE_CONFIG/binary-dir resolution is used, matching the
// teacher's config discovery order.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()
	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("TOPICFORGE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "topicforge.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/topicforge.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if config.Store.Path != "" && !filepath.IsAbs(config.Store.Path) {
		config.Store.Path = filepath.Join(binDir, config.Store.Path)
	}
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLogger(config.Logging.Level)

	store, err := sqlite.Open(config.Store.Path, config.Store.GetBusyTimeout(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var llmClient interfaces.LLMClient
	if len(config.LLM.APIKeys) > 0 {
		c, err := llm.NewClient(config.LLM.APIKeys, config.LLM.Model, config.LLM.GetTimeout(), config.LLM.GetKeyCooldown(), logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
		llmClient = c
	} else {
		logger.Warn().Msg("no LLM API keys configured; worker pool will have no usable credentials")
	}

	var processor interfaces.BatchProcessor
	var pool *workerpool.Pool
	if llmClient != nil {
		processor = batchproc.New(llmClient)
		pool = workerpool.New(store, processor, workerpool.Config{
			BatchSize:    config.Worker.BatchSize,
			PollInterval: config.Worker.GetPollInterval(),
			MaxParallel:  config.Worker.MaxParallel,
			StaleTimeout: config.Worker.GetStaleTimeout(),
		}, logger)
	}

	intakePort := intake.New(store)

	a := &App{
		Config:      config,
		Logger:      logger,
		Store:       store,
		LLMClient:   llmClient,
		Processor:   processor,
		WorkerPool:  pool,
		Intake:      intakePort,
		StartupTime: startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("app initialized")
	return a, nil
}

// StartWorkerPool launches the Worker Pool's poll and stale-reset loops,
// if an LLM client was configured.
func (a *App) StartWorkerPool() {
	if a.WorkerPool != nil {
		a.WorkerPool.Start()
	}
}

// Close releases all resources held by the App. Shutdown order: stop the
// worker pool (draining in-flight batches), then close the store.
func (a *App) Close() {
	if a.WorkerPool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		a.WorkerPool.Stop(ctx)
		cancel()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
