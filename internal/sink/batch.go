package sink

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/glassflow/streametl/internal/client"
)

// Batch wraps one clickhouse-go/v2 driver.Batch, replacing itself with a
// fresh prepared batch after every Send so the sink can keep accumulating
// rows without re-querying the column list, grounded on the teacher's
// internal/batch/clickhouse/batch.go.
type Batch struct {
	client client.DatabaseClient
	query  string
	batch  driver.Batch
	rows   int
}

func NewBatch(ctx context.Context, chClient client.DatabaseClient, query string) (*Batch, error) {
	b := &Batch{
		client: chClient,
		query:  query,
	}
	if err := b.reload(ctx); err != nil {
		return nil, fmt.Errorf("prepare batch: %w", err)
	}
	return b, nil
}

func (b *Batch) reload(ctx context.Context) error {
	batch, err := b.client.PrepareBatch(ctx, b.query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	b.batch = batch
	b.rows = 0
	return nil
}

func (b *Batch) Size() int {
	return b.rows
}

func (b *Batch) Append(values ...any) error {
	if err := b.batch.Append(values...); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	b.rows++
	return nil
}

// Send commits the batch and prepares a new one for the next round of
// accumulation. On failure the batch is kept as it is and no new one is
// prepared, so a caller that retries calls Send again on the same
// driver.Batch.
func (b *Batch) Send(ctx context.Context) error {
	if err := b.batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	if err := b.reload(ctx); err != nil {
		return fmt.Errorf("reload batch: %w", err)
	}
	return nil
}
