package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"docqa/internal/ai"
	appsvc "docqa/internal/app"
	"docqa/internal/cache"
	"docqa/internal/config"
	"docqa/internal/model"
	"docqa/internal/pkg/logger"
	mysqlClient "docqa/internal/platform/mysql"
	rabbitmqClient "docqa/internal/platform/rabbitmq"
	redisClient "docqa/internal/platform/redis"
	sqliteClient "docqa/internal/platform/sqlite"
	"docqa/internal/repository"
	"docqa/internal/vectorstore"
	"docqa/internal/worker"
)

type App struct {
	Config *config.Config
	DB     *gorm.DB
	// Redis is nil when the answer cache is disabled.
	Redis *redis.Client
	// MQConn is nil with the local ingest dispatcher.
	MQConn *amqp.Connection

	Documents *appsvc.DocumentService
	Ingest    *appsvc.IngestService
	Answers   *appsvc.AnswerService

	IngestWorker    *worker.IngestWorker
	LocalDispatcher *appsvc.LocalDispatcher

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig connects every dependency the config asks for and wires the services.
// Resources opened before a failure are closed again.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("close partially started app failed")
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	a.DB = db

	if cfg.Cache.Enabled {
		a.Redis, err = redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
	}

	embedder, err := NewEmbedder(cfg)
	if err != nil {
		return err
	}
	chat, err := ai.NewClaudeClient(ai.ChatConfig{
		BaseURL:   cfg.LLM.AnthropicBaseURL,
		APIKey:    cfg.LLM.AnthropicAPIKey,
		Model:     cfg.LLM.ChatModel,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLMTimeout(),
	})
	if err != nil {
		return err
	}
	if cfg.LLM.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is not set, documents will fail to process")
	}
	if cfg.LLM.AnthropicAPIKey == "" {
		log.Warn().Msg("ANTHROPIC_API_KEY is not set, questions will fail")
	}

	store, err := vectorstore.New(cfg.Storage.VectorDir)
	if err != nil {
		return err
	}

	repo := repository.NewDocumentRepository(db)
	a.Ingest = appsvc.NewIngestService(repo, embedder, store, IngestConfig(cfg))

	var answerCache appsvc.AnswerCache
	if a.Redis != nil {
		answerCache = cache.NewAnswerCache(a.Redis, cfg.AnswerTTL())
	}
	a.Answers = appsvc.NewAnswerService(repo, embedder, chat, store, answerCache, appsvc.AnswerConfig{
		TopK:    cfg.RAG.TopK,
		Timeout: cfg.LLMTimeout(),
	})

	a.Documents = appsvc.NewDocumentService(repo, nil, cfg.Storage.UploadsDir, cfg.Upload.MaxBytes,
		appsvc.WithProcessingLease(appsvc.ProcessingLease(cfg.IngestTimeout())))

	switch cfg.Ingest.Dispatcher {
	case "rabbitmq":
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
		if err != nil {
			return err
		}
		a.Documents.SetDispatcher(rabbitmqClient.NewIngestPublisher(a.MQConn, cfg.RabbitMQ.IngestQueue))
		a.IngestWorker = worker.NewIngestWorker(a.MQConn, a.Ingest, cfg.RabbitMQ.IngestQueue)
		if err := a.IngestWorker.Start(ctx); err != nil {
			return fmt.Errorf("start ingest worker failed: %w", err)
		}
	default:
		a.LocalDispatcher = appsvc.NewLocalDispatcher(a.Ingest)
		a.Documents.SetDispatcher(a.LocalDispatcher)
		// queued jobs die with the process, so pick up what the last run left behind
		resumed, err := a.Documents.ResumePending(ctx)
		if err != nil {
			return fmt.Errorf("resume pending documents failed: %w", err)
		}
		if resumed > 0 {
			log.Info().Int("documents", resumed).Msg("resumed pending ingestion")
		}
	}

	log.Info().
		Str("database", cfg.Database.Driver).
		Str("dispatcher", cfg.Ingest.Dispatcher).
		Bool("answer_cache", a.Redis != nil).
		Msg("app initialized")
	return nil
}

func NewEmbedder(cfg *config.Config) (*ai.OpenAIEmbedder, error) {
	return ai.NewOpenAIEmbedder(ai.EmbeddingConfig{
		BaseURL:   cfg.LLM.OpenAIBaseURL,
		APIKey:    cfg.LLM.OpenAIAPIKey,
		Model:     cfg.LLM.EmbeddingModel,
		BatchSize: cfg.RAG.EmbeddingBatchSize,
		Timeout:   cfg.LLMTimeout(),
	})
}

func IngestConfig(cfg *config.Config) appsvc.IngestConfig {
	return appsvc.IngestConfig{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		Timeout:      cfg.IngestTimeout(),
	}
}

// OpenDatabase opens the configured document store and migrates its schema.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Database.Driver {
	case "sqlite":
		db, err = sqliteClient.New(ctx, cfg.SQLite.Path)
	default:
		db, err = mysqlClient.New(ctx, cfg.MySQLDSN())
	}
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.Document{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}
	return db, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.LocalDispatcher != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.LocalDispatcher.Close(shutdownCtx); err != nil {
			closeErr = err
		}
		cancel()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
