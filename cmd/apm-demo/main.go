package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/apmagent/apm"
	"github.com/GriffinCanCode/apmagent/config"
	"github.com/GriffinCanCode/apmagent/internal/infrastructure/logging"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	configFile := flag.String("config", "", "YAML or TOML config file overlaid on the environment")
	envFile := flag.String("env", ".env", "Dotenv file loaded before reading the environment")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load %s: %v", *envFile, err)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Service.Name == "" {
		cfg.Service.Name = "apm-demo"
	}

	logCfg := logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development || *dev}
	if *dev {
		logCfg = logging.DevelopmentConfig()
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	tracer, err := apm.NewTracer(apm.TracerOptions{Config: cfg, Logger: logger.Logger})
	if err != nil {
		logger.Fatal("Failed to create tracer", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newRouter(tracer, http.DefaultClient),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutting down gracefully")
	case err := <-errChan:
		logger.Error("Server error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Error during server shutdown", zap.Error(err))
	}
	if err := tracer.Close(ctx); err != nil {
		logger.Warn("Error during tracer shutdown", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Snapshot, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}
	return config.LoadFile(path, cfg)
}
