// Command glassflow-dedup runs the deduplication operator as its own
// long-running process for one Kafka topic, consuming its input stream and
// republishing the deduplicated result to a second stream/subject. Grounded
// on the teacher's cmd/glassflow-sink/main.go shape and
// internal/deduplication/badger/consumer.go, adapted to this module's
// standalone deduplication.Dedup operator (there is no teacher binary for
// this role; the teacher only ever runs dedup embedded in its evolved
// pipeline manager).
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

	"github.com/dgraph-io/badger/v4"

	"github.com/glassflow/streametl/internal"
	"github.com/glassflow/streametl/internal/client"
	"github.com/glassflow/streametl/internal/deduplication"
	"github.com/glassflow/streametl/internal/models"
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
	TopicName      string `default:"" split_words:"true"`

	NATSServer       string        `default:"localhost:4222" split_words:"true"`
	NATSMaxStreamAge time.Duration `default:"24h" split_words:"true"`

	StreamName     string `default:"" split_words:"true"`
	StreamSubject  string `default:"" split_words:"true"`
	ResultSubject  string `default:"" split_words:"true"`
	BadgerDir      string `default:"" split_words:"true"`
}

func main() {
	var cfg config
	if err := envconfig.Process("glassflow", &cfg); err != nil {
		slog.Error("unable to parse config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(&cfg); err != nil {
		slog.Error("dedup operator stopped with error", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("dedup operator terminated gracefully")
}

func run(cfg *config) error {
	if cfg.TopicName == "" || cfg.StreamName == "" || cfg.StreamSubject == "" || cfg.ResultSubject == "" {
		return fmt.Errorf("topic name, stream name, stream subject and result subject must be provided")
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
	topic, ok := pipelineCfg.TopicByName(cfg.TopicName)
	if !ok {
		return fmt.Errorf("topic %q not found in pipeline config", cfg.TopicName)
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
		Name:          "glassflow-dedup-" + cfg.TopicName,
		Durable:       "glassflow-dedup-" + cfg.TopicName,
		FilterSubject: cfg.StreamSubject,
		AckWait:       internal.NatsDefaultAckWait,
		AckPolicy:     jetstream.AckAllPolicy,
		MaxAckPending: -1,
	}, cfg.StreamName, internal.ConsumerMaxWait)
	if err != nil {
		return fmt.Errorf("create dedup consumer: %w", err)
	}

	dbOpts := badger.DefaultOptions(cfg.BadgerDir)
	if cfg.BadgerDir == "" {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return fmt.Errorf("open dedup store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("close dedup store", "error", err)
		}
	}()

	ttl := topic.Deduplication.TimeWindow.Duration()
	if ttl <= 0 {
		ttl = internal.DedupDefaultWindow
	}

	publisher := stream.NewNATSPublisher(nc.JetStream(), log.With("component", "dedup", "topic", cfg.TopicName),
		stream.PublisherConfig{Subject: cfg.ResultSubject})

	counters := status.NewCounters()
	dedupOp := deduplication.NewDedup(consumer.Consumer, publisher, db, ttl, cfg.TopicName,
		counters, log.With("component", "dedup"), internal.DedupDefaultBatchSize, internal.ConsumerMaxWait)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- dedupOp.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dedup operator stopped: %w", err)
		}
		return nil
	case <-shutdown:
		log.Info("received termination signal, dedup operator will shut down")
		dedupOp.Stop()
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
