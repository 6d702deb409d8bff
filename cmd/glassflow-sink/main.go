// Command glassflow-sink runs the ClickHouse sink operator as its own
// long-running process, consuming a single NATS stream/subject named in its
// environment configuration. Grounded on the teacher's
// cmd/glassflow-sink/main.go, wired to this module's internal/sink instead
// of the teacher's service.SinkRunner.
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
	"github.com/nats-io/nats.go/jetstream"

	"github.com/glassflow/streametl/internal"
	"github.com/glassflow/streametl/internal/client"
	"github.com/glassflow/streametl/internal/models"
	"github.com/glassflow/streametl/internal/schema"
	"github.com/glassflow/streametl/internal/sink"
	"github.com/glassflow/streametl/internal/status"
	"github.com/glassflow/streametl/internal/stream"
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

	StreamName    string `default:"" split_words:"true"`
	StreamSubject string `default:"" split_words:"true"`
	ConsumerName  string `default:"glassflow-sink" split_words:"true"`
}

func main() {
	var cfg config
	if err := envconfig.Process("glassflow", &cfg); err != nil {
		slog.Error("unable to parse config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(&cfg); err != nil {
		slog.Error("sink operator stopped with error", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("sink operator terminated gracefully")
}

func run(cfg *config) error {
	if cfg.StreamName == "" || cfg.StreamSubject == "" {
		return fmt.Errorf("stream name and subject must be provided")
	}

	logOut, closeLog, err := logWriter(cfg.LogFilePath)
	if err != nil {
		return err
	}
	defer closeLog()

	log := observability.ConfigureLogger(&observability.Config{
		LogFormat: cfg.LogFormat, LogLevel: cfg.LogLevel, LogAddSource: cfg.LogAddSource,
	}, logOut)

	pipelineBytes, err := os.ReadFile(cfg.PipelineConfig)
	if err != nil {
		return fmt.Errorf("read pipeline config: %w", err)
	}
	var pipelineCfg models.PipelineConfig
	if err := json.Unmarshal(pipelineBytes, &pipelineCfg); err != nil {
		return fmt.Errorf("parse pipeline config: %w", err)
	}

	schemaMapper, err := schema.NewMapper(pipelineCfg)
	if err != nil {
		return fmt.Errorf("create schema mapper: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nc, err := client.NewNATSClient(ctx, cfg.NATSServer, client.WithMaxAge(cfg.NATSMaxStreamAge))
	if err != nil {
		return fmt.Errorf("nats client: %w", err)
	}
	defer nc.Close() //nolint:errcheck // best-effort on shutdown path

	//nolint:exhaustruct // optional config
	consumer, err := stream.NewNATSConsumer(ctx, nc.JetStream(), jetstream.ConsumerConfig{
		Name:          cfg.ConsumerName,
		Durable:       cfg.ConsumerName,
		FilterSubject: cfg.StreamSubject,
		AckWait:       internal.NatsDefaultAckWait,
		AckPolicy:     jetstream.AckAllPolicy,
		MaxAckPending: -1,
	}, cfg.StreamName, internal.ConsumerMaxWait)
	if err != nil {
		return fmt.Errorf("create sink consumer: %w", err)
	}

	counters := status.NewCounters()
	chSink, err := sink.NewClickHouseSink(ctx, pipelineCfg.Sink,
		sink.Config{MaxBatchSize: pipelineCfg.Sink.MaxBatchSize, MaxDelayTime: pipelineCfg.Sink.MaxDelayTime.Duration()},
		consumer, schemaMapper, log.With("component", "sink"), counters, nil)
	if err != nil {
		return fmt.Errorf("create clickhouse sink: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- chSink.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("sink operator stopped: %w", err)
		}
		return nil
	case <-shutdown:
		log.Info("received termination signal, sink operator will shut down")
		chSink.Stop(false)
		<-errCh
		return nil
	}
}

func logWriter(logFilePath string) (io.Writer, func(), error) {
	if logFilePath == "" {
		return os.Stdout, func() {}, nil
	}

	fileflags := os.O_WRONLY | os.O_APPEND | os.O_CREATE
	logFile, err := os.OpenFile(
		path.Join(logFilePath, time.Now().Format(time.RFC3339)+".log"),
		fileflags,
		os.FileMode(0o644),
	)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open log file: %w", err)
	}
	return io.MultiWriter(os.Stdout, logFile), func() { logFile.Close() }, nil
}
