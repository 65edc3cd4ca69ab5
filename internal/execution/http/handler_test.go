package executionhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dre-ingest/internal/execution"
	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

type stubReader struct {
	records map[uuid.UUID]execution.Record
	steps   map[uuid.UUID][]execution.StepEvent
	err     error
}

func (s stubReader) Get(_ context.Context, id uuid.UUID) (execution.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return execution.Record{}, fmt.Errorf("execution %s: %w", id, shared.ErrNotFound)
	}
	return rec, nil
}

func (s stubReader) List(_ context.Context, limit, offset int) ([]execution.Record, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	out := make([]execution.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, len(out), nil
}

func (s stubReader) Steps(_ context.Context, id uuid.UUID) ([]execution.StepEvent, error) {
	return s.steps[id], nil
}

type stubEnqueuer struct {
	batchID string
	trigger execution.Trigger
	err     error
}

func (s *stubEnqueuer) EnqueueIngest(_ context.Context, batchID string, trigger execution.Trigger) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.batchID, s.trigger = batchID, trigger
	return "task-1", nil
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestGetExecutionWithSteps(t *testing.T) {
	id := uuid.New()
	now := time.Date(2024, 6, 30, 8, 0, 0, 0, time.UTC)
	reader := stubReader{
		records: map[uuid.UUID]execution.Record{id: {ID: id, BatchID: "HITSS_AUTO_1", Status: execution.StatusCompleted, StartedAt: now}},
		steps:   map[uuid.UUID][]execution.StepEvent{id: {{ExecutionID: id, Step: execution.StepDownload, Status: execution.StepSuccess, At: now}}},
	}
	rr := httptest.NewRecorder()
	newRouter(NewHandler(reader, nil, quiet())).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/executions/"+id.String(), nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body detailResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "HITSS_AUTO_1", body.Execution.BatchID)
	require.Len(t, body.Steps, 1)
}

func TestGetExecutionErrors(t *testing.T) {
	router := newRouter(NewHandler(stubReader{}, nil, quiet()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/executions/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/executions/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListExecutions(t *testing.T) {
	id := uuid.New()
	reader := stubReader{records: map[uuid.UUID]execution.Record{id: {ID: id, Status: execution.StatusPartial}}}
	rr := httptest.NewRecorder()
	newRouter(NewHandler(reader, nil, quiet())).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/executions?per_page=5", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body listResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, 5, body.Pagination.PerPage)
	require.Equal(t, 1, body.Pagination.Total)

	rr = httptest.NewRecorder()
	newRouter(NewHandler(stubReader{err: errors.New("db down")}, nil, quiet())).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/executions", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestTriggerExecution(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newRouter(NewHandler(stubReader{}, enq, quiet()))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/executions", strings.NewReader(`{"batch_id":"HITSS_MANUAL_1"}`))
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, "HITSS_MANUAL_1", enq.batchID)
	require.Equal(t, execution.TriggerAPI, enq.trigger)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/executions", strings.NewReader(`{"batch_id":"has space"}`))
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTriggerWithEmptyChunkedBody(t *testing.T) {
	enq := &stubEnqueuer{}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/executions", strings.NewReader(""))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	newRouter(NewHandler(stubReader{}, enq, quiet())).ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, execution.TriggerAPI, enq.trigger)
}

func TestTriggerWithoutQueue(t *testing.T) {
	rr := httptest.NewRecorder()
	newRouter(NewHandler(stubReader{}, nil, quiet())).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/executions", nil))
	require.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestTriggerWhileQueued(t *testing.T) {
	enq := &stubEnqueuer{err: fmt.Errorf("%w: ingest already queued", shared.ErrConflict)}
	rr := httptest.NewRecorder()
	newRouter(NewHandler(stubReader{}, enq, quiet())).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/executions", nil))
	require.Equal(t, http.StatusConflict, rr.Code)
}
