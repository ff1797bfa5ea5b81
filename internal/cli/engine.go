package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/harun/memori/internal/config"
	"github.com/harun/memori/internal/logger"
	"github.com/harun/memori/internal/tracing"
	"github.com/harun/memori/pkg/assembler"
	"github.com/harun/memori/pkg/consolidator"
	"github.com/harun/memori/pkg/domain"
	"github.com/harun/memori/pkg/embedding"
	"github.com/harun/memori/pkg/linker"
	"github.com/harun/memori/pkg/llm"
	"github.com/harun/memori/pkg/memstore"
	"github.com/harun/memori/pkg/orchestrator"
	"github.com/harun/memori/pkg/redact"
	"github.com/harun/memori/pkg/retriever"
)

// engine bundles the wired components behind one lifecycle
type engine struct {
	cfg          *config.Config
	log          *logger.Logger
	store        *memstore.Store
	gateway      *domain.Gateway
	orch         *orchestrator.Orchestrator
	consolidator *consolidator.Consolidator
}

// buildEngine loads configuration and wires the full pipeline
func buildEngine() (*engine, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.Logging.Level,
		File:     cfg.Logging.File,
		Console:  true,
		Pretty:   true,
		Scrubbed: cfg.Logging.Scrubbed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	zl := log.GetZerolog()

	if err := tracing.Setup(); err != nil {
		zl.Warn().Err(err).Msg("Tracing setup failed, continuing without exporter")
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	store, err := memstore.NewStore(memstore.Config{
		DBPath:            filepath.Join(cfg.DataDir, "memory.db"),
		Logger:            zl,
		Embedder:          embedder,
		DecayHalfLife:     cfg.Memory.DecayHalfLife,
		DecayFloor:        cfg.Memory.DecayFloor,
		ReinforcementGain: cfg.Memory.ReinforcementGain,
		EpisodicTTL:       cfg.Memory.EpisodicTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	gw, err := domain.NewGateway(domain.Config{
		DBPath:       cfg.DomainDBPath,
		Logger:       zl,
		Timeout:      cfg.Facts.Timeout,
		LatestOrders: cfg.Facts.LatestOrders,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open business database: %w", err)
	}

	link, err := linker.NewLinker(linker.Config{
		Aliases:         store,
		Names:           gw,
		Embedder:        embedder,
		Logger:          zl,
		Margin:          cfg.Linker.Margin,
		ConfidenceFloor: cfg.Linker.ConfidenceFloor,
		MaxCandidates:   cfg.Linker.MaxCandidates,
	})
	if err != nil {
		return nil, err
	}

	retr, err := retriever.NewRetriever(retriever.Config{
		Memory:              store,
		Facts:               gw,
		Logger:              zl,
		Limit:               cfg.Retrieval.Limit,
		SimilarityWeight:    cfg.Retrieval.SimilarityWeight,
		ImportanceWeight:    cfg.Retrieval.ImportanceWeight,
		RecencyWeight:       cfg.Retrieval.RecencyWeight,
		ReinforcementWeight: cfg.Retrieval.ReinforcementWeight,
		MinScore:            cfg.Retrieval.MinScore,
		RecencyWindow:       cfg.Retrieval.RecencyWindow,
	})
	if err != nil {
		return nil, err
	}

	extra := make(map[string]string, len(cfg.Redaction.Patterns))
	for _, p := range cfg.Redaction.Patterns {
		extra[p.Name] = p.Pattern
	}
	guard, err := redact.NewGuard(extra)
	if err != nil {
		return nil, fmt.Errorf("failed to build redaction guard: %w", err)
	}

	completer, err := llm.NewCompleter(llm.Config{
		Provider:  cfg.Completion.Provider,
		APIKey:    cfg.Completion.APIKey,
		Model:     cfg.Completion.Model,
		MaxTokens: cfg.Completion.MaxTokens,
		Timeout:   cfg.Completion.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create completion provider: %w", err)
	}

	orch, err := orchestrator.NewOrchestrator(orchestrator.Config{
		Guard:     guard,
		Linker:    link,
		Store:     store,
		Retriever: retr,
		Assembler: assembler.NewAssembler(assembler.Config{EvidenceBudget: cfg.Assembler.EvidenceBudget}),
		Completer: completer,
		Logger:    zl,
	})
	if err != nil {
		return nil, err
	}

	cons, err := consolidator.NewConsolidator(consolidator.Config{
		Store:          store,
		Completer:      completer,
		Logger:         zl,
		WindowSessions: cfg.Consolidation.WindowSessions,
	})
	if err != nil {
		return nil, err
	}

	return &engine{
		cfg:          cfg,
		log:          log,
		store:        store,
		gateway:      gw,
		orch:         orch,
		consolidator: cons,
	}, nil
}

func buildEmbedder(cfg *config.Config) (embedding.Provider, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			BaseURL:   cfg.Embedding.BaseURL,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   cfg.Embedding.Timeout,
		}), nil
	case "mock":
		dim := cfg.Embedding.Dimension
		if dim <= 0 {
			dim = 256
		}
		return embedding.NewMockProvider(dim), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}

func (e *engine) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tracing.Shutdown(ctx); err != nil {
		zl := e.log.GetZerolog()
		zl.Warn().Err(err).Msg("Tracing shutdown failed")
	}

	e.gateway.Close()
	e.store.Close()
	e.log.Close()
}
