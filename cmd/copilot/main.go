package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"copilot-server/pkg/config"
	"copilot-server/pkg/copilot"
	http_server "copilot-server/pkg/http"
	"copilot-server/pkg/llm"
	"copilot-server/pkg/messaging"
	"copilot-server/pkg/metrics"
)

var logger = logrus.New()

func main() {
	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	setupLogging(cfg.Logging)

	metrics.Init(logger)

	client := llm.NewClient(logger, cfg.LLM)
	if !client.Configured() {
		logger.Warn("LLM gateway not configured, detection components run in lexicon mode")
	}

	engine := copilot.NewEngine(logger, client, copilot.ConfigFromEngine(cfg.Engine))

	hub := http_server.NewEventHub(logger)
	hub.Start()
	engine.Subscribe(hub)

	var publisher *messaging.Publisher
	if cfg.Messaging.Enabled {
		publisher = messaging.NewPublisher(logger, cfg.Messaging)
		if err := publisher.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP connect failed, continuing without event egress")
		} else {
			engine.Subscribe(publisher)
		}
	}

	server := http_server.NewServer(logger, cfg.HTTP, engine, hub)
	server.Start()

	logger.WithFields(logrus.Fields{
		"http_addr":    cfg.HTTP.ListenAddr,
		"amqp_enabled": cfg.Messaging.Enabled,
	}).Info("Copilot server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Finish an active call so the summary is not lost.
	if _, _, err := engine.EndCall(ctx); err == nil {
		logger.Info("Active call summarized during shutdown")
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	if err := engine.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Engine shutdown failed")
	}
	if publisher != nil {
		publisher.Disconnect()
	}

	logger.Info("Copilot server stopped")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}
}
