package join

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/glassflow/streametl/internal/kv"
	"github.com/glassflow/streametl/internal/status"
	"github.com/glassflow/streametl/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeKVStore is a minimal in-memory kv.KeyValueStore, grounded on the
// shape internal/kv.NATSKeyValueStore exposes.
type fakeKVStore struct {
	data map[string][]byte
	// missingOnGet marks keys that Keys() still lists but Get() reports as
	// expired, modelling a TTL expiry race between list and get.
	missingOnGet map[string]bool
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{data: make(map[string][]byte), missingOnGet: make(map[string]bool)}
}

func (s *fakeKVStore) Put(_ context.Context, key string, value []byte) error {
	s.data[key] = value
	return nil
}

func (s *fakeKVStore) Get(_ context.Context, key string) ([]byte, error) {
	if s.missingOnGet[key] {
		return nil, kv.ErrNotFound
	}
	v, ok := s.data[key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return v, nil
}

func (s *fakeKVStore) Delete(_ context.Context, key string) error {
	delete(s.data, key)
	return nil
}

func (s *fakeKVStore) Keys(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.data)+len(s.missingOnGet))
	for k := range s.data {
		keys = append(keys, k)
	}
	for k := range s.missingOnGet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// fakeJoinMapper treats an event's data as its own join key and merges two
// rows as "left|right", just enough behaviour for TemporalJoin's probe/store
// logic to be exercised without a real schema.
type fakeJoinMapper struct {
	keyErr  error
	joinErr error
}

func (fakeJoinMapper) GetLeftStreamTTL() (time.Duration, error)  { return 0, nil }
func (fakeJoinMapper) GetRightStreamTTL() (time.Duration, error) { return 0, nil }

func (m fakeJoinMapper) GetJoinKey(_ string, data []byte) (any, error) {
	if m.keyErr != nil {
		return nil, m.keyErr
	}
	return string(data), nil
}

func (fakeJoinMapper) GetKey(string, string, []byte) (any, error) { return nil, nil }
func (fakeJoinMapper) GetOrderedColumns() []string                { return nil }
func (fakeJoinMapper) PrepareValues([]byte) ([]any, error)        { return nil, nil }
func (fakeJoinMapper) GetFieldsMap(string, []byte) (map[string]any, error) {
	return nil, nil
}

func (m fakeJoinMapper) JoinData(leftTopic string, leftData []byte, rightTopic string, rightData []byte) ([]byte, error) {
	if m.joinErr != nil {
		return nil, m.joinErr
	}
	return []byte(fmt.Sprintf("%s:%s|%s:%s", leftTopic, leftData, rightTopic, rightData)), nil
}

func (fakeJoinMapper) ValidateSchema(string, []byte) error { return nil }

// fakePublisher implements stream.Publisher; only Publish is exercised by
// the join operator, the rest satisfy the interface.
type fakePublisher struct {
	published [][]byte
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, msg []byte) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

func (p *fakePublisher) GetSubject() string { return "test" }

func (p *fakePublisher) PublishNatsMsg(_ context.Context, _ *nats.Msg, _ ...stream.PublishOpt) error {
	return nil
}

func (p *fakePublisher) PublishBatch(_ context.Context, _ []*nats.Msg) ([]stream.FailedMessage, error) {
	return nil, nil
}

func newTestJoin(leftStore, rightStore *fakeKVStore, mapper fakeJoinMapper, pub *fakePublisher) *TemporalJoin {
	return &TemporalJoin{
		leftStore:    leftStore,
		rightStore:   rightStore,
		leftName:     "left",
		rightName:    "right",
		schemaMapper: mapper,
		publisher:    pub,
		counters:     status.NewCounters(),
		log:          testLogger(),
	}
}

func TestHandleEventStoresWithNoPriorMatches(t *testing.T) {
	left, right := newFakeKVStore(), newFakeKVStore()
	j := newTestJoin(left, right, fakeJoinMapper{}, &fakePublisher{})

	err := j.handleEvent(context.Background(), j.leftName, left, j.rightName, right, true, []byte("k1"))
	require.NoError(t, err)
	require.Len(t, left.data, 1)
	require.Empty(t, right.data)
	require.EqualValues(t, 1, j.counters.Snapshot().EventsIn)
}

func TestHandleEventMatchesAcrossSidesAndPublishes(t *testing.T) {
	left, right := newFakeKVStore(), newFakeKVStore()
	pub := &fakePublisher{}
	j := newTestJoin(left, right, fakeJoinMapper{}, pub)

	require.NoError(t, j.handleEvent(context.Background(), j.leftName, left, j.rightName, right, true, []byte("k1")))
	require.NoError(t, j.handleEvent(context.Background(), j.rightName, right, j.leftName, left, false, []byte("k1")))

	require.Len(t, pub.published, 1)
	require.Equal(t, "left:k1|right:k1", string(pub.published[0]))
	require.Len(t, right.data, 1)
	require.EqualValues(t, 1, j.counters.Snapshot().EventsOut)
}

func TestHandleEventManyToManyWithinSameKey(t *testing.T) {
	left, right := newFakeKVStore(), newFakeKVStore()
	pub := &fakePublisher{}
	j := newTestJoin(left, right, fakeJoinMapper{}, pub)

	require.NoError(t, j.handleEvent(context.Background(), j.leftName, left, j.rightName, right, true, []byte("k1")))
	require.NoError(t, j.handleEvent(context.Background(), j.leftName, left, j.rightName, right, true, []byte("k1")))
	require.NoError(t, j.handleEvent(context.Background(), j.rightName, right, j.leftName, left, false, []byte("k1")))

	require.Len(t, pub.published, 2, "one right event must match both buffered left events")
}

func TestHandleEventNoMatchOnDifferentKeys(t *testing.T) {
	left, right := newFakeKVStore(), newFakeKVStore()
	pub := &fakePublisher{}
	j := newTestJoin(left, right, fakeJoinMapper{}, pub)

	require.NoError(t, j.handleEvent(context.Background(), j.leftName, left, j.rightName, right, true, []byte("k1")))
	require.NoError(t, j.handleEvent(context.Background(), j.rightName, right, j.leftName, left, false, []byte("k2")))

	require.Empty(t, pub.published)
}

func TestHandleEventReturnsErrorOnMissingJoinKey(t *testing.T) {
	left, right := newFakeKVStore(), newFakeKVStore()
	j := newTestJoin(left, right, fakeJoinMapper{keyErr: errors.New("no key field")}, &fakePublisher{})

	err := j.handleEvent(context.Background(), j.leftName, left, j.rightName, right, true, []byte("k1"))
	require.Error(t, err)
	require.EqualValues(t, 1, j.counters.Snapshot().EventsDropped["join_key_missing"])
	require.Empty(t, left.data)
}

func TestHandleEventPropagatesPublishFailureAndDoesNotStore(t *testing.T) {
	left, right := newFakeKVStore(), newFakeKVStore()
	pub := &fakePublisher{err: errors.New("bus unavailable")}
	j := newTestJoin(left, right, fakeJoinMapper{}, pub)

	require.NoError(t, j.handleEvent(context.Background(), j.leftName, left, j.rightName, right, true, []byte("k1")))

	err := j.handleEvent(context.Background(), j.rightName, right, j.leftName, left, false, []byte("k1"))
	require.Error(t, err)
	require.Empty(t, right.data, "own event must not be stored when a match fails to publish")
}

func TestProbeSkipsEntriesThatExpiredBetweenListAndGet(t *testing.T) {
	left := newFakeKVStore()
	left.data["k1:a"] = []byte("k1")
	left.missingOnGet["k1:b"] = true
	j := newTestJoin(left, newFakeKVStore(), fakeJoinMapper{}, &fakePublisher{})

	matches, err := j.probe(context.Background(), left, "k1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestProbeOnlyMatchesExactKeyPrefix(t *testing.T) {
	left := newFakeKVStore()
	left.data["k1:a"] = []byte("k1")
	left.data["k10:a"] = []byte("k10")
	j := newTestJoin(left, newFakeKVStore(), fakeJoinMapper{}, &fakePublisher{})

	matches, err := j.probe(context.Background(), left, "k1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "k1", string(matches[0]))
}

func TestStoreKeyCarriesJoinKeyPrefix(t *testing.T) {
	store := newFakeKVStore()
	j := newTestJoin(store, newFakeKVStore(), fakeJoinMapper{}, &fakePublisher{})

	require.NoError(t, j.store(context.Background(), store, "k1", []byte("payload")))

	var found bool
	for k := range store.data {
		if strings.HasPrefix(k, "k1:") {
			found = true
		}
	}
	require.True(t, found)
}
