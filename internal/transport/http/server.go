package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "ollama-chat/internal/app"
	"ollama-chat/internal/bootstrap"
	"ollama-chat/internal/cache"
	"ollama-chat/internal/platform/rabbitmq"
	"ollama-chat/internal/repository"
	"ollama-chat/internal/transport/http/handler"
	"ollama-chat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Logger), gin.Recovery())

	conversationRepo := repository.NewConversationRepository(app.DB)
	messageRepo := repository.NewMessageRepository(app.DB)
	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	titlePublisher := rabbitmq.NewTitlePublisher(app.MQConn, app.Config.RabbitMQ.TitleQueue)

	chatService := appsvc.NewChatService(
		conversationRepo,
		messageRepo,
		app.Agent,
		titlePublisher,
		historyCache,
		app.Logger,
	)

	healthHandler := handler.NewHealthHandler(app)
	chatHandler := handler.NewChatHandler(chatService)
	wsHandler := handler.NewWSHandler(chatService, app.Logger)

	router.GET("/healthz", healthHandler.Check)

	api := router.Group("/api")
	api.POST("/chat", chatHandler.Chat)
	api.GET("/conversations", chatHandler.ListConversations)
	api.GET("/conversations/:id/messages", chatHandler.ListMessages)

	router.GET("/ws/chat", wsHandler.Handle)

	return router
}
