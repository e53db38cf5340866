package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"docchat/internal/ai"
	"docchat/internal/app"
	"docchat/internal/cache"
	"docchat/internal/config"
	"docchat/internal/logging"
	"docchat/internal/pkg/textextract"
	"docchat/internal/platform/database"
	rabbitmqClient "docchat/internal/platform/rabbitmq"
	redisClient "docchat/internal/platform/redis"
	"docchat/internal/repository"
	"docchat/internal/worker"
)

type App struct {
	Config      *config.Config
	HistoryDB   *gorm.DB
	History     *repository.ChatHistoryRepository
	Redis       *redis.Client
	MQConn      *amqp.Connection
	BuildWorker *worker.IndexBuildWorker
	Sessions    *app.SessionService

	logCloser io.Closer
	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logCloser, err := logging.Setup(logging.Options{
		Level:       cfg.Log.Level,
		Production:  cfg.IsProduction(),
		ErrorFile:   cfg.Log.ErrorFile,
		MaxAgeHours: cfg.Log.MaxAgeHours,
	})
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, logCloser: logCloser}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.StartedAt = time.Now()
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	db, history, err := OpenHistory(ctx, cfg)
	if err != nil {
		return err
	}
	a.HistoryDB = db
	a.History = history

	provider, err := ai.NewProvider(cfg.LLM.Provider, ai.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Timeout:        cfg.LLMTimeout(),
	})
	if err != nil {
		return err
	}

	// Optional collaborators stay untyped nil when disabled so the service
	// sees a nil interface.
	var historyCache app.HistoryCache
	if cfg.Redis.Enabled {
		a.Redis, err = redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		historyCache = cache.NewHistoryCache(a.Redis, cfg.HistoryTTL())
	}

	var publisher app.BuildPublisher
	if cfg.RabbitMQ.Enabled {
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		publisher = rabbitmqClient.NewBuildPublisher(a.MQConn, cfg.RabbitMQ.IndexBuildQueue)
	}

	loader := app.NewDocumentLoader(cfg.Storage.DocumentsRoot, textextract.New(), cfg.Storage.MaxUploadBytes)
	indexes := app.NewIndexManager(cfg.Storage.IndexRoot, cfg.Storage.Collection, provider)
	engine := app.NewQueryEngine(provider, provider)
	a.Sessions = app.NewSessionService(loader, indexes, engine, history, historyCache, publisher)

	if a.MQConn != nil {
		a.BuildWorker = worker.NewIndexBuildWorker(a.MQConn, a.Sessions, cfg.RabbitMQ.IndexBuildQueue)
		if err := a.BuildWorker.Start(ctx); err != nil {
			return fmt.Errorf("start index build worker failed: %w", err)
		}
	}

	log.Info().
		Str("history_driver", cfg.History.Driver).
		Bool("redis", a.Redis != nil).
		Bool("rabbitmq", a.MQConn != nil).
		Msg("application initialized")
	return nil
}

// OpenHistory opens the configured history database and makes sure both
// history tables exist.
func OpenHistory(ctx context.Context, cfg *config.Config) (*gorm.DB, *repository.ChatHistoryRepository, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.History.Driver {
	case "mysql":
		db, err = database.OpenMySQL(ctx, cfg.MySQLDSN())
	default:
		db, err = database.OpenSQLite(ctx, cfg.History.SQLitePath)
	}
	if err != nil {
		return nil, nil, err
	}

	history := repository.NewChatHistoryRepository(db)
	if err := history.InitSchema(ctx); err != nil {
		_ = database.Close(db)
		return nil, nil, fmt.Errorf("init history schema failed: %w", err)
	}
	return db, history, nil
}

func (a *App) Close() error {
	var errs []error
	if a.BuildWorker != nil {
		a.BuildWorker.Close()
	}
	if a.Sessions != nil {
		errs = append(errs, a.Sessions.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.MQConn != nil {
		errs = append(errs, a.MQConn.Close())
	}
	if a.HistoryDB != nil {
		errs = append(errs, database.Close(a.HistoryDB))
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}
