// Package join implements the temporal join operator, spec §4.5: two
// buffers indexed by join key, each entry kept for its side's TTL, many-to-
// many matching on every new event. Grounded on the teacher's
// internal/core/join/temporal.go, generalized to treat both sides
// symmetrically (the teacher's right side only ever held the single latest
// value per key; this implementation buffers both sides identically so a
// late arrival on either side still matches every still-valid entry on the
// other, per spec's many-to-many requirement — see DESIGN.md).
package join

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/glassflow/streametl/internal/kv"
	"github.com/glassflow/streametl/internal/schema"
	"github.com/glassflow/streametl/internal/status"
	"github.com/glassflow/streametl/internal/stream"
)

// Operator is the pipeline manager's view of the join operator.
type Operator interface {
	Start(ctx context.Context) error
	Stop(noWait bool)
}

// TemporalJoin matches events from two input streams whose join keys agree
// within each side's time window.
type TemporalJoin struct {
	leftSub  stream.Subscriber
	rightSub stream.Subscriber

	leftStore  kv.KeyValueStore
	rightStore kv.KeyValueStore

	leftName  string
	rightName string

	schemaMapper schema.Mapper
	publisher    stream.Publisher

	counters *status.Counters
	log      *slog.Logger

	wg sync.WaitGroup
}

func NewTemporalJoin(
	leftConsumer, rightConsumer stream.Consumer,
	publisher stream.Publisher,
	schemaMapper schema.Mapper,
	leftStore, rightStore kv.KeyValueStore,
	leftName, rightName string,
	counters *status.Counters,
	log *slog.Logger,
) *TemporalJoin {
	return &TemporalJoin{
		leftSub:      stream.NewNATSSubscriber(leftConsumer, log.With("side", leftName)),
		rightSub:     stream.NewNATSSubscriber(rightConsumer, log.With("side", rightName)),
		leftStore:    leftStore,
		rightStore:   rightStore,
		leftName:     leftName,
		rightName:    rightName,
		schemaMapper: schemaMapper,
		publisher:    publisher,
		counters:     counters,
		log:          log,
	}
}

// Start subscribes to both sides; each side's handler probes the other
// side's buffer for every still-valid (unexpired) entry sharing the join
// key, emits a merged row per match, then stores its own event so later
// arrivals on either side can still match it (spec §4.5 steps 1-2). The
// upstream message is acknowledged only once every emission from a probe
// has been confirmed by the bus (step 3).
func (j *TemporalJoin) Start(ctx context.Context) error {
	j.counters.SetState(status.StateRunning)
	j.log.Info("join operator started")

	j.wg.Add(2)
	if err := j.leftSub.Subscribe(j.handler(ctx, j.leftName, j.leftStore, j.rightName, j.rightStore, true)); err != nil {
		j.wg.Add(-2)
		return fmt.Errorf("subscribe left stream: %w", err)
	}
	if err := j.rightSub.Subscribe(j.handler(ctx, j.rightName, j.rightStore, j.leftName, j.leftStore, false)); err != nil {
		j.wg.Add(-2)
		return fmt.Errorf("subscribe right stream: %w", err)
	}

	go func() { <-j.leftSub.Closed(); j.wg.Done() }()
	go func() { <-j.rightSub.Closed(); j.wg.Done() }()

	j.wg.Wait()
	j.counters.SetState(status.StateStopped)
	j.log.Info("join operator stopped")
	return nil
}

func (j *TemporalJoin) handler(
	ctx context.Context,
	ownName string, ownStore kv.KeyValueStore,
	otherName string, otherStore kv.KeyValueStore,
	isLeft bool,
) func(msg jetstream.Msg) {
	return func(msg jetstream.Msg) {
		if err := j.handleEvent(ctx, ownName, ownStore, otherName, otherStore, isLeft, msg.Data()); err != nil {
			j.log.Error("join event failed, redelivery will retry", "side", ownName, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				j.log.Error("nak message", "error", nakErr)
			}
			return
		}
		if err := msg.Ack(); err != nil {
			j.log.Error("ack message", "error", err)
		}
	}
}

func (j *TemporalJoin) handleEvent(
	ctx context.Context,
	ownName string, ownStore kv.KeyValueStore,
	otherName string, otherStore kv.KeyValueStore,
	isLeft bool,
	data []byte,
) error {
	key, err := j.schemaMapper.GetJoinKey(ownName, data)
	if err != nil {
		j.counters.AddDropped("join_key_missing", 1)
		return fmt.Errorf("get join key: %w", err)
	}

	matches, err := j.probe(ctx, otherStore, key)
	if err != nil {
		return fmt.Errorf("probe %s buffer: %w", otherName, err)
	}

	for _, otherData := range matches {
		var merged []byte
		if isLeft {
			merged, err = j.schemaMapper.JoinData(ownName, data, otherName, otherData)
		} else {
			merged, err = j.schemaMapper.JoinData(otherName, otherData, ownName, data)
		}
		if err != nil {
			return fmt.Errorf("join rows: %w", err)
		}
		if err := j.publisher.Publish(ctx, merged); err != nil {
			return fmt.Errorf("publish joined row: %w", err)
		}
		j.counters.AddOut(1)
	}

	if err := j.store(ctx, ownStore, key, data); err != nil {
		return fmt.Errorf("store %s event: %w", ownName, err)
	}
	j.counters.AddIn(1)
	return nil
}

// store saves one event under a time-ordered key so a later probe's Keys
// scan recovers matches in insertion order, spec §4.5 "tie-breaks".
func (j *TemporalJoin) store(ctx context.Context, store kv.KeyValueStore, key any, data []byte) error {
	seq, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate sequence id: %w", err)
	}
	fullKey := fmt.Sprintf("%v:%s", key, seq.String())
	if err := store.Put(ctx, fullKey, data); err != nil {
		return fmt.Errorf("put buffered event: %w", err)
	}
	return nil
}

// probe returns every still-valid buffered entry for key, in insertion
// order. Entries that expired between the key listing and the get are
// silently skipped (spec §4.5: "events whose TTL expires before matching
// are silently dropped").
func (j *TemporalJoin) probe(ctx context.Context, store kv.KeyValueStore, key any) ([][]byte, error) {
	allKeys, err := store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buffered keys: %w", err)
	}

	prefix := fmt.Sprintf("%v:", key)
	var matched []string
	for _, k := range allKeys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)

	out := make([][]byte, 0, len(matched))
	for _, k := range matched {
		v, err := store.Get(ctx, k)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get buffered event %q: %w", k, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Stop stops pulling from both sides. When noWait is false, each side keeps
// consuming until a poll returns no message and then closes; when true, each
// side closes as soon as the message it is handling, if any, has been acked
// or nak'ed.
func (j *TemporalJoin) Stop(noWait bool) {
	j.counters.SetState(status.StateDraining)
	if noWait {
		j.leftSub.Stop()
		j.rightSub.Stop()
		return
	}
	j.leftSub.DrainAndStop()
	j.rightSub.DrainAndStop()
}
