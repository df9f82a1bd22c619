package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seatutor/mariner-backend/internal/agent/react"
	"github.com/seatutor/mariner-backend/internal/agent/supervisor"
	"github.com/seatutor/mariner-backend/internal/agent/tool"
	"github.com/seatutor/mariner-backend/internal/callback"
	"github.com/seatutor/mariner-backend/internal/clients/pinecone"
	"github.com/seatutor/mariner-backend/internal/config"
	chatrepo "github.com/seatutor/mariner-backend/internal/data/repos/chat"
	corpusrepo "github.com/seatutor/mariner-backend/internal/data/repos/corpus"
	memrepo "github.com/seatutor/mariner-backend/internal/data/repos/memory"
	"github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/graph"
	"github.com/seatutor/mariner-backend/internal/guardian"
	httpServer "github.com/seatutor/mariner-backend/internal/http"
	httpH "github.com/seatutor/mariner-backend/internal/http/handlers"
	httpMW "github.com/seatutor/mariner-backend/internal/http/middleware"
	"github.com/seatutor/mariner-backend/internal/jobs/background"
	"github.com/seatutor/mariner-backend/internal/memory"
	"github.com/seatutor/mariner-backend/internal/observability"
	"github.com/seatutor/mariner-backend/internal/orchestrator"
	"github.com/seatutor/mariner-backend/internal/persona"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
	"github.com/seatutor/mariner-backend/internal/platform/neo4jdb"
	"github.com/seatutor/mariner-backend/internal/platform/openai"
	"github.com/seatutor/mariner-backend/internal/platform/pgdb"
	"github.com/seatutor/mariner-backend/internal/platform/redisdb"
	"github.com/seatutor/mariner-backend/internal/rag/cache"
	"github.com/seatutor/mariner-backend/internal/rag/crag"
	"github.com/seatutor/mariner-backend/internal/rag/embed"
	"github.com/seatutor/mariner-backend/internal/rag/grade"
	"github.com/seatutor/mariner-backend/internal/rag/rewrite"
	"github.com/seatutor/mariner-backend/internal/rag/search"
	"github.com/seatutor/mariner-backend/internal/rag/verify"
	"github.com/seatutor/mariner-backend/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	domain.SetContextualIndexing(cfg.ContextualRAGEnabled)

	log, err := logger.New(cfg.Mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()
	otelShutdown := observability.Init(ctx, log, observability.Config{
		ServiceName: "mariner-backend",
		Environment: cfg.Mode,
	})

	// storage
	pg, err := pgdb.New(log, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.AutoMigrateAll(); err != nil {
		log.Warn("auto migration failed", "error", err.Error())
	}
	db := pg.DB()

	rdb, err := redisdb.New(log, cfg.RedisAddr)
	if err != nil {
		log.Warn("redis unavailable, degrading to in-process fallbacks", "error", err.Error())
	}

	neo, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("neo4j unavailable, graph context disabled", "error", err.Error())
	}
	if neo != nil {
		defer neo.Close(ctx)
	}

	// clients
	ai, err := openai.NewClient(log, openai.Config{
		Provider:   cfg.LLMProvider,
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.LLMModel,
		EmbedModel: cfg.EmbeddingModel,
	})
	if err != nil {
		return err
	}

	var vectors pinecone.VectorStore
	if pcClient, err := pinecone.New(log, pinecone.Config{APIKey: os.Getenv("PINECONE_API_KEY")}); err != nil {
		log.Warn("pinecone unavailable, dense retrieval disabled", "error", err.Error())
	} else if vectors, err = pinecone.NewVectorStore(log, pcClient); err != nil {
		log.Warn("pinecone index unavailable, dense retrieval disabled", "error", err.Error())
	}

	notifier := callback.New(log, cfg.LMSCallbackURL, cfg.LMSCallbackSecret)

	// repos
	sessionRepo := chatrepo.NewSessionRepo(db, log)
	messageRepo := chatrepo.NewMessageRepo(db, log)
	factRepo := memrepo.NewFactRepo(db, log)
	insightRepo := memrepo.NewInsightRepo(db, log)
	summaryRepo := memrepo.NewSummaryRepo(db, log)
	chunkRepo := corpusrepo.NewChunkRepo(db, log)

	// retrieval stack
	embedder, err := embed.New(log, ai, cfg.EmbeddingDimensions)
	if err != nil {
		return err
	}
	searcher, err := search.New(log, embedder, vectors, chunkRepo, search.Config{
		RRFK:           cfg.RRFK,
		TitleBoost:     cfg.RRFTitleBoost,
		SparsePriority: cfg.RRFSparsePriority,
		DenseThreshold: cfg.SimilarityThreshold,
	})
	if err != nil {
		return err
	}
	grader, err := grade.New(log, ai, grade.Config{
		PassThreshold: cfg.GraderPassThreshold,
		Parallelism:   cfg.GraderParallelism,
	})
	if err != nil {
		return err
	}
	rewriter, err := rewrite.New(log, ai)
	if err != nil {
		return err
	}
	verifier, err := verify.New(log, ai)
	if err != nil {
		return err
	}
	semCache := cache.New(log, cache.Config{
		TTL:        cfg.CacheTTL,
		Similarity: cfg.CacheSimilarity,
		Capacity:   cfg.CacheCapacity,
	})
	entities, err := graph.NewEntityLookup(log, neo)
	if err != nil {
		return err
	}
	cragPipeline, err := crag.New(log, embedder, semCache, searcher, grader, rewriter, verifier, ai,
		entities, crag.Config{
			MaxAttempts:       cfg.CragMaxAttempts,
			DisableCorrection: !cfg.EnableCorrectiveRAG,
		})
	if err != nil {
		return err
	}

	// memory
	memService, err := memory.NewService(log, memory.Config{
		MaxFacts:                    cfg.MaxUserFacts,
		MaxInsights:                 cfg.MaxInsights,
		ConsolidationThreshold:      cfg.ConsolidationThreshold,
		TargetInsightCount:          cfg.TargetInsightCount,
		PreserveDays:                cfg.PreserveDays,
		DuplicateThreshold:          cfg.MemoryDuplicateThreshold,
		FactDuplicateThreshold:      cfg.FactSimilarityThreshold,
		SummarizationTokenThreshold: cfg.SummarizationTokenThreshold,
	}, factRepo, insightRepo, summaryRepo, messageRepo, embedder, ai, notifier)
	if err != nil {
		return err
	}

	// agents
	registry := tool.NewRegistry()
	if err := tool.RegisterStandard(registry, tool.Deps{
		CRAG:     cragPipeline,
		Memory:   memService,
		Entities: entities,
		Tutor:    ai,
		Notifier: notifier,
	}); err != nil {
		return err
	}
	reactAgent, err := react.New(log, ai, registry, nil, react.Config{MaxIterations: cfg.ReactMaxIterations})
	if err != nil {
		return err
	}
	graphAgent, err := supervisor.New(log, ai, registry,
		supervisor.Config{DeepReasoning: cfg.DeepReasoningEnabled})
	if err != nil {
		return err
	}

	// request pipeline
	guard, err := guardian.New(log, ai, rdb, cfg.GuardianCacheTTL)
	if err != nil {
		return err
	}
	personas, err := persona.Load(log, cfg.PersonaDir)
	if err != nil {
		return err
	}
	stateStore := session.NewStore()
	scheduler, err := background.NewScheduler(log, background.Config{})
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(log, orchestrator.Config{
		RequestDeadline:   cfg.RequestDeadline,
		ContextWindowSize: cfg.ContextWindowSize,
		UseUnifiedAgent:   cfg.UseUnifiedAgent,
	}, sessionRepo, messageRepo, stateStore, guard, personas, memService, embedder,
		reactAgent, graphAgent, ai, scheduler)
	if err != nil {
		return err
	}

	// http
	server := httpServer.NewServer(httpServer.RouterConfig{
		Mode:           cfg.Mode,
		Log:            log,
		Auth:           httpMW.NewAuthMiddleware(log, cfg.APIKey),
		RateLimit:      httpMW.NewRateLimiter(log, rdb, cfg.APIRateLimitPerMin, cfg.ChatRateLimitPerMin),
		ChatHandler:    httpH.NewChatHandler(log, orch),
		MemoryHandler:  httpH.NewMemoryHandler(log, memService),
		HistoryHandler: httpH.NewHistoryHandler(log, messageRepo),
		SourceHandler:  httpH.NewSourceHandler(log, chunkRepo),
		HealthHandler:  httpH.NewHealthHandler(log, db, rdb, neo),
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "port", cfg.Port)
		if err := server.Run(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err.Error())
	}
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		log.Warn("background drain incomplete", "error", err.Error())
	}
	if otelShutdown != nil {
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown incomplete", "error", err.Error())
		}
	}
	return nil
}
