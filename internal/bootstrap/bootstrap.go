package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/evidence-journal/internal/config"
	"github.com/kirillkom/evidence-journal/internal/core/dedup"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
	"github.com/kirillkom/evidence-journal/internal/core/rules"
	"github.com/kirillkom/evidence-journal/internal/core/usecase"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/chunking"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/extractor"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/extractor/htmltext"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/extractor/xlsx"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/lineage/neo4jgraph"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/queue/nats"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/repository/memory"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/resilience"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/rulesconfig"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/evidence-journal/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Journal  ports.JournalStore
	Events   ports.EventBus
	Rules    *rulesconfig.Store
	Executor *resilience.Executor
	// AssessExecutor retries whole assessment attempts with its own breaker.
	AssessExecutor *resilience.Executor
	Metrics        *metrics.WorkerMetrics

	Queue    *usecase.QueueManager
	SubmitUC *usecase.SubmitDocumentUseCase
	AssessUC *usecase.AssessEntryUseCase
	QueryUC  *usecase.JournalQueryService
	Recovery *usecase.RecoveryUseCase

	natsBus  *nats.EventBus
	memBus   *memory.EventBus
	closeFns []func()
}

// New wires the journal for service. Every constructed resource is released
// by Close, also when New fails halfway.
func New(ctx context.Context, cfg config.Config, service string) (app *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	app = &App{
		Config:         cfg,
		Executor:       resilience.NewExecutor(cfg.Resilience),
		AssessExecutor: resilience.NewExecutor(cfg.AssessResilience),
		Metrics:        metrics.NewWorkerMetrics(service),
	}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	var (
		fingerprints ports.FingerprintStore
		stepStore    ports.StepRecorder
	)
	switch cfg.JournalBackend {
	case config.BackendMemory:
		store := memory.NewJournalStore()
		app.Journal, fingerprints, stepStore = store, store, store
		app.memBus = memory.NewEventBus(0)
		app.Events = app.memBus
	default:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return app, fmt.Errorf("open postgres: %w", err)
		}
		app.onClose(func() { _ = db.Close() })
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return app, fmt.Errorf("ensure schema: %w", err)
		}
		app.Journal = postgres.NewJournalRepository(db)
		fpRepo := postgres.NewFingerprintRepository(db)
		fingerprints, stepStore = fpRepo, fpRepo

		bus, err := nats.NewWithOptions(cfg.NATSURL, nats.Options{
			SubmittedSubject:   cfg.NATSSubmittedSubject,
			QueuedSubject:      cfg.NATSQueuedSubject,
			AssessorGroup:      cfg.NATSAssessorGroup,
			ClientName:         service,
			ResilienceExecutor: app.Executor,
		})
		if err != nil {
			return app, fmt.Errorf("init event bus: %w", err)
		}
		app.onClose(bus.Close)
		app.natsBus = bus
		app.Events = bus
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return app, fmt.Errorf("init object storage: %w", err)
	}

	app.Rules, err = rulesconfig.NewStore(cfg.RulesPath)
	if err != nil {
		return app, fmt.Errorf("load rule table: %w", err)
	}

	textExtractor := extractor.NewDispatcher(storage, cfg.MaxDocumentBytes,
		pdf.New(),
		xlsx.New(),
		htmltext.New(),
		plaintext.New(),
	)

	ollamaClient := ollama.NewWithExecutor(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, app.Executor)
	var classifier ports.DocumentClassifier = rules.NewHeuristicClassifier(app.Rules)
	if cfg.ClassifierMode == config.ClassifierOllama {
		classifier = rules.NewFallbackClassifier(ollama.NewClassifier(ollamaClient), classifier)
	}

	var (
		embedder ports.Embedder
		index    ports.EmbeddingIndex
	)
	if cfg.SemanticEnabled {
		embedder = chunking.NewMeanEmbedder(
			ollama.NewEmbedder(ollamaClient),
			chunking.NewSplitter(cfg.EmbedWindowSize, cfg.EmbedWindowOverlap),
			cfg.EmbedMaxWindows,
		)
		if cfg.JournalBackend == config.BackendMemory {
			index = memory.NewEmbeddingIndex()
		} else {
			index = qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
		}
	}

	var lineage ports.LineageRecorder
	if cfg.Neo4jURI != "" {
		recorder, err := neo4jgraph.New(ctx, neo4jgraph.Config{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			return app, fmt.Errorf("init lineage graph: %w", err)
		}
		app.onClose(func() { _ = recorder.Close(context.Background()) })
		lineage = recorder
	}

	steps := metrics.StepFanout{
		stepStore,
		app.Metrics,
		metrics.NewStepLogger(slog.Default()),
	}
	assessor := dedup.NewAssessor(cfg.Dedup, app.Journal, fingerprints, textExtractor, embedder, index, steps)

	app.Queue = usecase.NewQueueManager(app.Journal, app.Events, lineage)
	app.SubmitUC = usecase.NewSubmitDocumentUseCase(app.Journal, storage, app.Events, app.Queue)
	app.AssessUC = usecase.NewAssessEntryUseCase(app.Queue, assessor, rules.NewEngine(app.Rules, classifier))
	app.QueryUC = usecase.NewJournalQueryService(app.Journal)
	app.Recovery = usecase.NewRecoveryUseCase(app.Journal, app.Events)
	app.Recovery.OnResubmitted(app.Metrics.AddRecovered)

	slog.Info("app_bootstrapped",
		"backend", cfg.JournalBackend,
		"classifier", cfg.ClassifierMode,
		"semantic", cfg.SemanticEnabled,
		"lineage", lineage != nil,
		"policy", string(cfg.Dedup.Policy),
	)
	return app, nil
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

// Close releases resources in reverse construction order.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

// InProcess reports whether events stay inside this process, in which case
// the API must run the assessor itself.
func (a *App) InProcess() bool {
	return a.memBus != nil
}

// Health reports dependency state for the health endpoint.
func (a *App) Health() map[string]any {
	breakers := a.Executor.States()
	for name, state := range a.AssessExecutor.States() {
		breakers[name] = state
	}
	health := map[string]any{
		"backend":  a.Config.JournalBackend,
		"breakers": breakers,
	}
	if a.natsBus != nil {
		health["nats_connected"] = a.natsBus.Connected()
	}
	return health
}

// SubscribeQueued exposes the queued wake-up feed for downstream processors.
func (a *App) SubscribeQueued(ctx context.Context, group string, handler func(context.Context, string) error) error {
	if a.natsBus != nil {
		return a.natsBus.SubscribeEntryQueued(ctx, group, handler)
	}
	return a.memBus.SubscribeEntryQueued(ctx, handler)
}
