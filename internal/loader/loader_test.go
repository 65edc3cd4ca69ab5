package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dre-ingest/internal/dre"
	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

type memoryStore struct {
	mu      sync.Mutex
	rows    map[string]dre.Record
	calls   int
	failOn  map[int]error
	batches map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[string]dre.Record{}, failOn: map[int]error{}, batches: map[string]string{}}
}

func (m *memoryStore) UpsertChunk(_ context.Context, records []dre.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err, ok := m.failOn[m.calls]; ok {
		return err
	}
	for _, r := range records {
		m.rows[r.BatchID+"/"+r.Key()] = r
	}
	return nil
}

func (m *memoryStore) total() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range m.rows {
		sum = sum.Add(r.Valor)
	}
	return sum
}

func (m *memoryStore) ActiveBatches(context.Context) ([]string, error) {
	var ids []string
	for id, status := range m.batches {
		if status == "active" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memoryStore) ActivateBatch(_ context.Context, info BatchInfo) error {
	if m.batches[info.BatchID] == "active" {
		return shared.ErrInvalidTransition
	}
	m.batches[info.BatchID] = "active"
	return nil
}

func (m *memoryStore) DeactivateBatch(_ context.Context, id string) error {
	if m.batches[id] != "active" {
		return shared.ErrInvalidTransition
	}
	m.batches[id] = "inactive"
	return nil
}

func records(n int) []dre.Record {
	out := make([]dre.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, dre.Record{
			BatchID:  "HITSS_AUTO_1",
			FileName: "hitss.xlsx",
			Tipo:     dre.TipoReceita,
			Valor:    decimal.NewFromInt(int64(i + 1)),
			Period:   dre.Period{Month: 6, Year: 2024},
			Source:   dre.Source{Sheet: "Sheet1", Row: i + 2},
		})
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadChunksRecords(t *testing.T) {
	store := newMemoryStore()
	l := New(store, Config{ChunkSize: 100}, quietLogger())

	res, err := l.Load(context.Background(), records(250))
	require.NoError(t, err)
	require.Equal(t, 250, res.Inserted)
	require.Zero(t, res.Failed)
	require.Equal(t, 3, res.Chunks)
	require.Equal(t, 3, store.calls)
	require.Len(t, store.rows, 250)
}

func TestLoadContinuesPastFailedChunkWithoutRetry(t *testing.T) {
	store := newMemoryStore()
	store.failOn[2] = errors.New("deadlock detected")
	l := New(store, Config{ChunkSize: 100}, quietLogger())

	res, err := l.Load(context.Background(), records(250))
	require.NoError(t, err)
	require.Equal(t, 150, res.Inserted)
	require.Equal(t, 100, res.Failed)
	require.Equal(t, 3, store.calls)
	require.Len(t, res.FailedChunks, 1)

	failed := res.FailedChunks[0]
	require.Equal(t, 2, failed.Chunk)
	require.Equal(t, 100, failed.Offset)
	require.Contains(t, failed.Error(), "records 101-200")
}

func TestLoadIsIdempotentForSameBatch(t *testing.T) {
	store := newMemoryStore()
	l := New(store, Config{ChunkSize: 7}, quietLogger())
	input := records(40)

	_, err := l.Load(context.Background(), input)
	require.NoError(t, err)
	firstCount, firstTotal := len(store.rows), store.total()

	_, err = l.Load(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, firstCount, len(store.rows))
	require.True(t, firstTotal.Equal(store.total()))
}

func TestLoadStopsWhenContextEnds(t *testing.T) {
	store := newMemoryStore()
	l := New(store, Config{ChunkSize: 10, RatePerSecond: 0.001}, quietLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := l.Load(ctx, records(30))
	require.Error(t, err)
	require.Equal(t, 10, res.Inserted)
	require.Equal(t, 20, res.Failed)
}

func TestLoadEmpty(t *testing.T) {
	res, err := New(newMemoryStore(), Config{}, quietLogger()).Load(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, Result{}, res)
}

func TestPromoteDeactivatesPreviousBatches(t *testing.T) {
	store := newMemoryStore()
	store.batches["HITSS_AUTO_1"] = "active"
	store.batches["HITSS_AUTO_0"] = "inactive"

	deactivated, err := Promote(context.Background(), store, BatchInfo{BatchID: "HITSS_AUTO_2", Records: 3})
	require.NoError(t, err)
	require.Equal(t, []string{"HITSS_AUTO_1"}, deactivated)
	require.Equal(t, "active", store.batches["HITSS_AUTO_2"])
	require.Equal(t, "inactive", store.batches["HITSS_AUTO_1"])

	deactivated, err = Promote(context.Background(), store, BatchInfo{BatchID: "HITSS_AUTO_2"})
	require.NoError(t, err)
	require.Empty(t, deactivated)
}

func ExampleBatchInsertError() {
	err := &BatchInsertError{Chunk: 3, Offset: 200, Size: 50, Err: errors.New("timeout")}
	fmt.Println(err)
	// Output: loader: chunk 3 (records 201-250): timeout
}
