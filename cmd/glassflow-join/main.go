// Command glassflow-join runs the temporal join operator as its own
// long-running process, consuming two NATS streams/subjects named in its
// environment configuration and publishing matched rows to a third. Grounded on the
// teacher's cmd/glassflow-join/main.go, wired to this module's
// internal/join.TemporalJoin instead of the teacher's service.JoinRunner.
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
	"github.com/glassflow/streametl/internal/kv"
	"github.com/glassflow/streametl/internal/models"
	"github.com/glassflow/streametl/internal/schema"
	"github.com/glassflow/streametl/internal/status"
	"github.com/glassflow/streametl/internal/stream"
	"github.com/glassflow/streametl/internal/join"
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

	LeftStreamName    string `default:"" split_words:"true"`
	LeftStreamSubject string `default:"" split_words:"true"`

	RightStreamName    string `default:"" split_words:"true"`
	RightStreamSubject string `default:"" split_words:"true"`

	ResultsStreamName    string `default:"" split_words:"true"`
	ResultsStreamSubject string `default:"" split_words:"true"`
}

func main() {
	var cfg config
	if err := envconfig.Process("glassflow", &cfg); err != nil {
		slog.Error("unable to parse config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(&cfg); err != nil {
		slog.Error("join operator stopped with error", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("join operator terminated gracefully")
}

func run(cfg *config) error {
	if cfg.LeftStreamName == "" || cfg.LeftStreamSubject == "" {
		return fmt.Errorf("left stream name and subject must be provided")
	}
	if cfg.RightStreamName == "" || cfg.RightStreamSubject == "" {
		return fmt.Errorf("right stream name and subject must be provided")
	}
	if cfg.ResultsStreamName == "" || cfg.ResultsStreamSubject == "" {
		return fmt.Errorf("results stream name and subject must be provided")
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
	if len(pipelineCfg.Join.Sources) != internal.JoinSidesSupported {
		return fmt.Errorf("join requires exactly %d sources, got %d", internal.JoinSidesSupported, len(pipelineCfg.Join.Sources))
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

	leftTTL, err := schemaMapper.GetLeftStreamTTL()
	if err != nil {
		return fmt.Errorf("get left join ttl: %w", err)
	}
	rightTTL, err := schemaMapper.GetRightStreamTTL()
	if err != nil {
		return fmt.Errorf("get right join ttl: %w", err)
	}

	leftStore, err := kv.NewNATSKeyValueStore(ctx, nc.JetStream(), kv.KeyValueStoreConfig{
		StoreName: pipelineCfg.Join.Sources[0].SourceID + "-join-left", TTL: leftTTL,
	})
	if err != nil {
		return fmt.Errorf("create left join kv store: %w", err)
	}
	rightStore, err := kv.NewNATSKeyValueStore(ctx, nc.JetStream(), kv.KeyValueStoreConfig{
		StoreName: pipelineCfg.Join.Sources[1].SourceID + "-join-right", TTL: rightTTL,
	})
	if err != nil {
		return fmt.Errorf("create right join kv store: %w", err)
	}

	leftConsumer, err := newConsumer(ctx, nc, "glassflow-join-left", cfg.LeftStreamSubject, cfg.LeftStreamName)
	if err != nil {
		return fmt.Errorf("create left join consumer: %w", err)
	}
	rightConsumer, err := newConsumer(ctx, nc, "glassflow-join-right", cfg.RightStreamSubject, cfg.RightStreamName)
	if err != nil {
		return fmt.Errorf("create right join consumer: %w", err)
	}

	publisher := stream.NewNATSPublisher(nc.JetStream(), log.With("component", "join"),
		stream.PublisherConfig{Subject: cfg.ResultsStreamSubject})

	counters := status.NewCounters()
	joinOp := join.NewTemporalJoin(leftConsumer, rightConsumer, publisher, schemaMapper,
		leftStore, rightStore, pipelineCfg.Join.Sources[0].SourceID, pipelineCfg.Join.Sources[1].SourceID,
		counters, log.With("component", "join"))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- joinOp.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("join operator stopped: %w", err)
		}
		return nil
	case <-shutdown:
		log.Info("received termination signal, join operator will shut down")
		joinOp.Stop(false)
		<-errCh
		return nil
	}
}

func newConsumer(ctx context.Context, nc *client.NATSClient, durable, subject, streamName string) (*stream.NatsConsumer, error) {
	//nolint:exhaustruct // optional config
	return stream.NewNATSConsumer(ctx, nc.JetStream(), jetstream.ConsumerConfig{
		Name:          durable,
		Durable:       durable,
		FilterSubject: subject,
		AckWait:       internal.NatsDefaultAckWait,
		AckPolicy:     jetstream.AckAllPolicy,
		MaxAckPending: -1,
	}, streamName, internal.ConsumerMaxWait)
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
