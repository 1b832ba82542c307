package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/quillmem/synapse/internal/config"
	"github.com/quillmem/synapse/internal/embed"
	"github.com/quillmem/synapse/internal/engine"
	"github.com/quillmem/synapse/internal/llm"
	"github.com/quillmem/synapse/internal/store"
)

// runtime holds everything a command needs torn down afterwards.
type runtime struct {
	cfg      config.Config
	engine   *engine.Engine
	watcher  *config.PatternWatcher
	db       *store.DB
	logger   *zap.Logger
	embedder string
}

// bootstrap loads config and assembles an engine with persistence.
func bootstrap() (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if cfg.Storage.DataDir == "" {
		dir, err := config.DefaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.Storage.DataDir = dir
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	watcher, err := config.NewPatternWatcher(cfg.Storage.PatternsPath, logger)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	var emb embed.Embedder
	embName := ""
	if embed.ProbeOllama(cfg.Embedder.OllamaURL, cfg.Embedder.Model) {
		emb = embed.NewOllamaEmbedder(cfg.Embedder.OllamaURL, cfg.Embedder.Model, cfg.Engine.EmbedDim)
		embName = fmt.Sprintf("ollama (%s)", cfg.Embedder.Model)
	} else {
		emb = embed.NewHashingEmbedder(cfg.Engine.EmbedDim)
		embName = "hashing (fallback)"
	}

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), model-assisted extraction disabled\n", err)
		llmClient = nil
	}

	db, err := store.Open(filepath.Join(cfg.Storage.DataDir, "synapse.db"))
	if err != nil {
		watcher.Stop()
		logger.Sync()
		return nil, fmt.Errorf("open database: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Config:   cfg,
		Patterns: watcher.Current,
		Embedder: emb,
		LLM:      llmClient,
		DB:       db,
		Logger:   logger,
	})
	if err != nil {
		db.Close()
		watcher.Stop()
		logger.Sync()
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		engine:   eng,
		watcher:  watcher,
		db:       db,
		logger:   logger,
		embedder: embName,
	}, nil
}

func (rt *runtime) close() {
	rt.engine.Close()
	rt.db.Close()
	rt.watcher.Stop()
	rt.logger.Sync()
}
