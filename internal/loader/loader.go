// Package loader writes normalized records to the destination store in
// idempotent chunks.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/odyssey-erp/dre-ingest/internal/dre"
)

// DefaultChunkSize matches the chunking of the upstream loader.
const DefaultChunkSize = 100

// Store persists one chunk atomically. Re-sending a chunk must not create
// duplicates.
type Store interface {
	UpsertChunk(ctx context.Context, records []dre.Record) error
}

// BatchInsertError describes a chunk that could not be written.
type BatchInsertError struct {
	Chunk  int
	Offset int
	Size   int
	Err    error
}

func (e *BatchInsertError) Error() string {
	return fmt.Sprintf("loader: chunk %d (records %d-%d): %v", e.Chunk, e.Offset+1, e.Offset+e.Size, e.Err)
}

func (e *BatchInsertError) Unwrap() error { return e.Err }

// Result aggregates a load.
type Result struct {
	Inserted     int
	Failed       int
	Chunks       int
	FailedChunks []BatchInsertError
}

// Config tunes chunking and write pacing.
type Config struct {
	ChunkSize int
	// RatePerSecond limits chunk writes; zero disables pacing.
	RatePerSecond float64
}

// Loader splits records into chunks and writes each one once.
type Loader struct {
	store     Store
	chunkSize int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New constructs a Loader.
func New(store Store, cfg Config, logger *slog.Logger) *Loader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Loader{store: store, chunkSize: cfg.ChunkSize, limiter: limiter, logger: logger}
}

// Load writes records in order. A failed chunk is recorded and skipped;
// it is not retried here. The returned error is non-nil only when ctx ends
// the load early, in which case unattempted records count as failed.
func (l *Loader) Load(ctx context.Context, records []dre.Record) (Result, error) {
	var res Result
	for offset, chunk := 0, 1; offset < len(records); offset, chunk = offset+l.chunkSize, chunk+1 {
		end := offset + l.chunkSize
		if end > len(records) {
			end = len(records)
		}
		part := records[offset:end]
		res.Chunks++

		if err := l.wait(ctx); err != nil {
			res.Failed += len(records) - offset
			return res, err
		}
		if err := l.store.UpsertChunk(ctx, part); err != nil {
			if ctx.Err() != nil {
				res.Failed += len(records) - offset
				return res, ctx.Err()
			}
			insertErr := BatchInsertError{Chunk: chunk, Offset: offset, Size: len(part), Err: err}
			res.FailedChunks = append(res.FailedChunks, insertErr)
			res.Failed += len(part)
			l.logger.Error("chunk upsert failed",
				slog.Int("chunk", chunk),
				slog.Int("size", len(part)),
				slog.Any("error", err))
			continue
		}
		res.Inserted += len(part)
		l.logger.Debug("chunk upserted", slog.Int("chunk", chunk), slog.Int("size", len(part)))
	}
	return res, nil
}

func (l *Loader) wait(ctx context.Context) error {
	if l.limiter == nil {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}
