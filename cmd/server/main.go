package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ollama-chat/internal/bootstrap"
	httptransport "ollama-chat/internal/transport/http"
)

func main() {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("create logger failed: %v", err)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	ctx := context.Background()
	app, err := bootstrap.New(ctx, logger)
	if err != nil {
		logger.Fatalw("bootstrap failed", "error", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Errorw("close resources failed", "error", err)
		}
	}()

	router := httptransport.NewRouter(app)
	server := &http.Server{
		Addr:              app.Config.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infow("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server failed", "error", err)
		}
	}()

	waitForShutdown(server, logger)
}

func waitForShutdown(server *http.Server, logger *zap.SugaredLogger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("server shutdown failed", "error", err)
	}
}
