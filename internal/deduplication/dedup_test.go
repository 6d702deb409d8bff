package deduplication

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/glassflow/streametl/internal/status"
	"github.com/glassflow/streametl/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMsg embeds jetstream.Msg so only the methods processBatch/ack/nak
// actually call need concrete behaviour.
type fakeMsg struct {
	jetstream.Msg
	data    []byte
	acked   bool
	nakked  bool
	ackErr  error
}

func (m *fakeMsg) Data() []byte          { return m.data }
func (m *fakeMsg) Headers() nats.Header  { return nil }
func (m *fakeMsg) Ack() error {
	m.acked = true
	return m.ackErr
}

func (m *fakeMsg) Nak() error {
	m.nakked = true
	return nil
}

// fakeDeduplicator lets a test decide which messages survive, or fail the
// whole call outright.
type fakeDeduplicator struct {
	survivorIdx []int
	err         error
}

func (d *fakeDeduplicator) Deduplicate(ctx context.Context, messages []*nats.Msg, sendBatch func(context.Context, []*nats.Msg) error) error {
	if d.err != nil {
		return d.err
	}
	survivors := make([]*nats.Msg, 0, len(d.survivorIdx))
	for _, i := range d.survivorIdx {
		survivors = append(survivors, messages[i])
	}
	return sendBatch(ctx, survivors)
}

type fakePublisher struct {
	published [][]*nats.Msg
	err       error
}

func (p *fakePublisher) Publish(context.Context, []byte) error { return nil }
func (p *fakePublisher) GetSubject() string                    { return "test.subject" }
func (p *fakePublisher) PublishNatsMsg(context.Context, *nats.Msg, ...stream.PublishOpt) error {
	return nil
}

func (p *fakePublisher) PublishBatch(_ context.Context, msgs []*nats.Msg) ([]stream.FailedMessage, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.published = append(p.published, msgs)
	return nil, nil
}

func newTestDedup(publisher *fakePublisher, dedup *fakeDeduplicator) *Dedup {
	return &Dedup{
		publisher:    publisher,
		deduplicator: dedup,
		counters:     status.NewCounters(),
		log:          testLogger(),
		batchSize:    10,
	}
}

func TestProcessBatchPublishesSurvivorsAndAcksLastMessage(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDedup(pub, &fakeDeduplicator{survivorIdx: []int{0, 1}})

	msgs := []jetstream.Msg{&fakeMsg{data: []byte("a")}, &fakeMsg{data: []byte("b")}}
	err := d.processBatch(context.Background(), msgs)
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	require.Len(t, pub.published[0], 2)
	require.True(t, msgs[1].(*fakeMsg).acked)
	require.False(t, msgs[0].(*fakeMsg).acked, "only the last message in an AckAll batch needs acking")
	require.EqualValues(t, 2, d.counters.Snapshot().EventsIn)
	require.EqualValues(t, 2, d.counters.Snapshot().EventsOut)
}

func TestProcessBatchDropsDuplicatesWithoutPublishing(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDedup(pub, &fakeDeduplicator{survivorIdx: nil})

	msgs := []jetstream.Msg{&fakeMsg{data: []byte("a")}}
	err := d.processBatch(context.Background(), msgs)
	require.NoError(t, err)

	require.Empty(t, pub.published)
	require.True(t, msgs[0].(*fakeMsg).acked, "duplicate still acked: its key was durably recorded")
	require.EqualValues(t, 1, d.counters.Snapshot().EventsDropped["duplicate"])
}

func TestProcessBatchNoopOnEmptyBatch(t *testing.T) {
	d := newTestDedup(&fakePublisher{}, &fakeDeduplicator{})
	require.NoError(t, d.processBatch(context.Background(), nil))
}

func TestProcessBatchReturnsErrorWithoutAckingOnDeduplicateFailure(t *testing.T) {
	d := newTestDedup(&fakePublisher{}, &fakeDeduplicator{err: errors.New("badger write failed")})

	msg := &fakeMsg{data: []byte("a")}
	err := d.processBatch(context.Background(), []jetstream.Msg{msg})
	require.Error(t, err)
	require.False(t, msg.acked)
}

func TestNakNaksEveryMessage(t *testing.T) {
	d := newTestDedup(&fakePublisher{}, &fakeDeduplicator{})
	m1, m2 := &fakeMsg{}, &fakeMsg{}
	d.nak([]jetstream.Msg{m1, m2})
	require.True(t, m1.nakked)
	require.True(t, m2.nakked)
}
