// Command pipeline-manager runs every operator of one pipeline definition
// (ingestors, dedup, join, sink) in a single process, dependency-ordered at
// startup and shutdown by internal/pipeline.Manager. Grounded on the
// teacher's cmd/glassflow/main.go role-dispatch binary, trimmed of its HTTP
// API and k8s-orchestrator control plane (out of scope, see DESIGN.md) down
// to the local, single-pipeline run path.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/glassflow/streametl/internal/client"
	"github.com/glassflow/streametl/internal/models"
	"github.com/glassflow/streametl/internal/pipeline"
	"github.com/glassflow/streametl/pkg/observability"
)

type config struct {
	LogFormat    string     `default:"json" split_words:"true"`
	LogLevel     slog.Level `default:"debug" split_words:"true"`
	LogAddSource bool       `default:"false" split_words:"true"`
	LogFilePath  string     `split_words:"true"`

	PipelineConfig string `default:"pipeline.json" split_words:"true"`

	NATSServer       string        `default:"localhost:4222" split_words:"true"`
	NATSMaxStreamAge time.Duration `default:"24h" split_words:"true"`

	ShutdownTimeout time.Duration `default:"30s" split_words:"true"`
}

func main() {
	var cfg config
	if err := envconfig.Process("glassflow", &cfg); err != nil {
		slog.Error("unable to parse config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(&cfg); err != nil {
		slog.Error("pipeline manager stopped with error", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("pipeline manager terminated gracefully")
}

func run(cfg *config) error {
	var logOut io.Writer
	var logFile io.WriteCloser
	var err error

	switch cfg.LogFilePath {
	case "":
		logOut = os.Stdout
	default:
		fileflags := os.O_WRONLY | os.O_APPEND | os.O_CREATE
		logFile, err = os.OpenFile(
			path.Join(cfg.LogFilePath, time.Now().Format(time.RFC3339)+".log"),
			fileflags,
			os.FileMode(0o644),
		)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()

		logOut = io.MultiWriter(os.Stdout, logFile)
	}

	log := observability.ConfigureLogger(&observability.Config{
		LogFormat:    cfg.LogFormat,
		LogLevel:     cfg.LogLevel,
		LogAddSource: cfg.LogAddSource,
	}, logOut)

	pipelineBytes, err := os.ReadFile(cfg.PipelineConfig)
	if err != nil {
		return fmt.Errorf("read pipeline config: %w", err)
	}

	var pipelineCfg models.PipelineConfig
	if err := json.Unmarshal(pipelineBytes, &pipelineCfg); err != nil {
		return fmt.Errorf("parse pipeline config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	nc, err := client.NewNATSClient(ctx, cfg.NATSServer, client.WithMaxAge(cfg.NATSMaxStreamAge))
	if err != nil {
		return fmt.Errorf("nats client: %w", err)
	}
	defer func() {
		if err := nc.Close(); err != nil {
			log.Error("close nats client", "error", err)
		}
	}()

	mgr := pipeline.NewManager(nc, log)
	if err := mgr.Setup(ctx, pipelineCfg); err != nil {
		return fmt.Errorf("setup pipeline: %w", err)
	}

	mgr.Start(ctx)
	log.Info("pipeline started", "pipeline_id", pipelineCfg.PipelineID)

	<-shutdown
	log.Info("received termination signal, shutting down gracefully")
	cancel()
	mgr.Stop(false)

	return nil
}
