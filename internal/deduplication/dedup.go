// Package deduplication implements the standalone dedup operator, spec
// §4.4: a badger-backed window of recently seen keys, consulted before
// every republish so a duplicate event is dropped rather than forwarded
// twice. Grounded on the teacher's internal/deduplication/badger/consumer.go,
// trimmed of its stateless-transform and DLQ routing (out of this module's
// scope, see DESIGN.md) and adapted to this module's stream.Publisher.
package deduplication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/glassflow/streametl/internal/deduplication/badger"
	"github.com/glassflow/streametl/internal/status"
	"github.com/glassflow/streametl/internal/stream"
)

// Operator is the pipeline manager's view of the dedup operator.
type Operator interface {
	Start(ctx context.Context) error
	Stop()
}

// Deduplicator stores a window of recently seen keys, drops the messages of
// a batch whose keys it has already seen, and hands the rest to sendBatch.
type Deduplicator interface {
	Deduplicate(ctx context.Context, messages []*nats.Msg, sendBatch func(ctx context.Context, messages []*nats.Msg) error) error
}

// Dedup pulls batches of already-keyed messages (the ingestor stamps
// Nats-Msg-Id on every event carrying a dedup key, spec §4.3), drops
// anything already seen within the configured window, and republishes the
// rest. The badger transaction wrapping both the key write and the publish
// ensures a message is never forwarded without its key durably recorded
// first (spec §4.4: "never forward without a successful store write").
type Dedup struct {
	consumer     jetstream.Consumer
	publisher    stream.Publisher
	deduplicator Deduplicator

	cancel context.CancelFunc

	counters  *status.Counters
	log       *slog.Logger
	batchSize int
	maxWait   time.Duration
}

func NewDedup(
	consumer jetstream.Consumer,
	publisher stream.Publisher,
	db *badgerdb.DB,
	ttl time.Duration,
	topic string,
	counters *status.Counters,
	log *slog.Logger,
	batchSize int,
	maxWait time.Duration,
) *Dedup {
	return &Dedup{
		consumer:     consumer,
		publisher:    publisher,
		deduplicator: badger.NewDeduplicator(db, ttl, topic),
		counters:     counters,
		log:          log,
		batchSize:    batchSize,
		maxWait:      maxWait,
	}
}

// Start pulls and processes batches until ctx is cancelled, then drains
// whatever is immediately available before stopping (spec §4.4).
func (d *Dedup) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.counters.SetState(status.StateRunning)
	d.log.Info("dedup operator started")
	defer d.log.Info("dedup operator stopped")

	for {
		select {
		case <-runCtx.Done():
			return d.drain()
		default:
		}

		batch, err := d.consumer.Fetch(d.batchSize, jetstream.FetchMaxWait(d.maxWait))
		if err != nil {
			d.fail(fmt.Errorf("fetch batch: %w", err))
			return err
		}

		msgs := collect(batch)
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			d.log.Warn("fetch batch completed with error", "error", err)
		}

		if err := d.processBatch(runCtx, msgs); err != nil {
			if !errors.Is(err, context.Canceled) {
				d.log.Error("process batch failed, nak for redelivery", "error", err)
			}
			d.nak(msgs)
		}
	}
}

func (d *Dedup) drain() error {
	d.counters.SetState(status.StateDraining)
	batch, err := d.consumer.FetchNoWait(d.batchSize)
	if err != nil {
		d.log.Error("drain fetch", "error", err)
	} else {
		msgs := collect(batch)
		if err := d.processBatch(context.Background(), msgs); err != nil {
			d.log.Error("drain process batch", "error", err)
			d.nak(msgs)
		}
	}
	d.counters.SetState(status.StateStopped)
	return nil
}

func (d *Dedup) processBatch(ctx context.Context, msgs []jetstream.Msg) error {
	if len(msgs) == 0 {
		return nil
	}

	natsMsgs := make([]*nats.Msg, len(msgs))
	for i, m := range msgs {
		natsMsgs[i] = &nats.Msg{Data: m.Data(), Header: nats.Header(m.Headers()), Subject: d.publisher.GetSubject()}
	}

	err := d.deduplicator.Deduplicate(ctx, natsMsgs, func(ctx context.Context, survivors []*nats.Msg) error {
		if len(survivors) > 0 {
			if _, err := d.publisher.PublishBatch(ctx, survivors); err != nil {
				return fmt.Errorf("publish batch: %w", err)
			}
		}
		d.counters.AddDropped("duplicate", uint64(len(natsMsgs)-len(survivors)))
		d.counters.AddIn(uint64(len(natsMsgs)))
		d.counters.AddOut(uint64(len(survivors)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("deduplicate: %w", err)
	}

	d.ack(msgs)
	return nil
}

func (d *Dedup) fail(err error) {
	d.counters.SetState(status.StateFailed)
	d.counters.SetLastError(err, time.Now())
	d.log.Error("dedup operator failed", "error", err)
}

func (d *Dedup) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func collect(batch jetstream.MessageBatch) []jetstream.Msg {
	var msgs []jetstream.Msg
	for m := range batch.Messages() {
		msgs = append(msgs, m)
	}
	return msgs
}

// ack acknowledges the last message in the batch: JetStream's AckAll
// policy treats that as acknowledging every prior message too.
func (d *Dedup) ack(msgs []jetstream.Msg) {
	if len(msgs) == 0 {
		return
	}
	if err := msgs[len(msgs)-1].Ack(); err != nil {
		d.log.Error("ack batch", "error", err)
	}
}

func (d *Dedup) nak(msgs []jetstream.Msg) {
	for _, m := range msgs {
		if err := m.Nak(); err != nil {
			d.log.Error("nak message", "error", err)
		}
	}
}
