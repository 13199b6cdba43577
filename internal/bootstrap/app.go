package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ollama-chat/internal/ai"
	"ollama-chat/internal/config"
	"ollama-chat/internal/model"
	postgresClient "ollama-chat/internal/platform/postgres"
	rabbitmqClient "ollama-chat/internal/platform/rabbitmq"
	redisClient "ollama-chat/internal/platform/redis"
	"ollama-chat/internal/repository"
	"ollama-chat/internal/worker"
)

type App struct {
	Config      *config.Config
	Logger      *zap.SugaredLogger
	DB          *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	Agent       *ai.OllamaAgent
	TitleWorker *worker.TitleWorker

	StartedAt time.Time
}

func New(ctx context.Context, logger *zap.SugaredLogger) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	db, err := postgresClient.New(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.Conversation{}, &model.Message{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	agent := ai.NewOllamaAgent(ai.Config{
		BaseURL: cfg.Ollama.BaseURL,
		Model:   cfg.Ollama.Model,
		Timeout: time.Duration(cfg.Ollama.TimeoutSeconds) * time.Second,
	})

	conversationRepo := repository.NewConversationRepository(db)
	titleWorker := worker.NewTitleWorker(mqConn, conversationRepo, agent, cfg.RabbitMQ.TitleQueue, logger)
	if err := titleWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start title worker failed: %w", err)
	}

	return &App{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Redis:       redisCli,
		MQConn:      mqConn,
		Agent:       agent,
		TitleWorker: titleWorker,
		StartedAt:   time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.TitleWorker != nil {
		a.TitleWorker.Close()
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
