package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/wfmeta/workflow-agent/pkg/config"
	"github.com/wfmeta/workflow-agent/pkg/handlers"
	"github.com/wfmeta/workflow-agent/pkg/logging"
	"github.com/wfmeta/workflow-agent/pkg/services"
)

func main() {
	// A missing .env is fine; the environment itself is authoritative.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootstrapLogger().Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger(logging.Config{
		Level:       logging.LogLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
		ServiceName: "workflow-agent",
		Version:     cfg.ServiceVersion,
	})

	logger.Info("starting workflow agent",
		"version", cfg.ServiceVersion,
		"port", cfg.Port,
		"weaviate_host", cfg.WeaviateHost,
		"llm_enabled", cfg.LLMEnabled(),
	)

	service := services.NewWorkflowAgentService(cfg, logger)

	ctx := context.Background()
	if err := service.Initialize(ctx); err != nil {
		logger.Error("service initialization failed", "error", err)
		os.Exit(1)
	}

	st, resolver, composer, debugger, checker, metrics := service.GetComponents()
	handler := handlers.NewWorkflowAgentHandler(st, resolver, composer, debugger, checker, metrics, service, cfg.MaxXMLFileSize, logger)

	router := mux.NewRouter()
	handler.SetupRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	checker.SetReady(true)

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdown)
	defer cancel()

	service.Shutdown(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown incomplete", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

// bootstrapLogger covers errors raised before configuration is loaded
func bootstrapLogger() *logging.StructuredLogger {
	return logging.NewStructuredLogger(logging.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "workflow-agent",
	})
}
