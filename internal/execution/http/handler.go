package executionhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/dre-ingest/internal/execution"
	"github.com/odyssey-erp/dre-ingest/internal/platform/httpx"
	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

// Reader exposes the persisted audit trail.
type Reader interface {
	Get(ctx context.Context, id uuid.UUID) (execution.Record, error)
	List(ctx context.Context, limit, offset int) ([]execution.Record, int, error)
	Steps(ctx context.Context, id uuid.UUID) ([]execution.StepEvent, error)
}

// Enqueuer schedules an ingestion run in the background.
type Enqueuer interface {
	EnqueueIngest(ctx context.Context, batchID string, trigger execution.Trigger) (string, error)
}

// TriggerRequest is the optional body of POST /executions.
type TriggerRequest struct {
	BatchID string `json:"batch_id" validate:"omitempty,max=64,batchid"`
}

// Handler melayani API status eksekusi ingestion.
type Handler struct {
	reader   Reader
	enqueuer Enqueuer
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler membuat handler eksekusi baru.
func NewHandler(reader Reader, enqueuer Enqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	_ = v.RegisterValidation("batchid", func(fl validator.FieldLevel) bool {
		return batchIDPattern.MatchString(fl.Field().String())
	})
	return &Handler{reader: reader, enqueuer: enqueuer, logger: logger, validate: v}
}

var batchIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

type listResponse struct {
	Items      []execution.Record `json:"items"`
	Pagination shared.Pagination  `json:"pagination"`
}

type detailResponse struct {
	Execution execution.Record      `json:"execution"`
	Steps     []execution.StepEvent `json:"steps"`
}

type triggerResponse struct {
	TaskID  string `json:"task_id"`
	BatchID string `json:"batch_id,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page := atoiDefault(r.URL.Query().Get("page"), 1)
	perPage := atoiDefault(r.URL.Query().Get("per_page"), 0)
	p := shared.NewPagination(page, perPage, 0)

	items, total, err := h.reader.List(r.Context(), p.PerPage, p.Offset())
	if err != nil {
		h.logger.Error("list executions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []execution.Record{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Pagination: shared.NewPagination(p.Page, p.PerPage, total)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: execution id must be a uuid", httpx.ErrValidation))
		return
	}
	rec, err := h.reader.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, fmt.Errorf("%w: execution %s", httpx.ErrNotFound, id))
			return
		}
		h.logger.Error("get execution", slog.String("execution_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	steps, err := h.reader.Steps(r.Context(), id)
	if err != nil {
		h.logger.Error("list execution steps", slog.String("execution_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if steps == nil {
		steps = []execution.StepEvent{}
	}
	httpx.JSON(w, http.StatusOK, detailResponse{Execution: rec, Steps: steps})
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Implemented", "background queue not configured")
		return
	}
	var req TriggerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	taskID, err := h.enqueuer.EnqueueIngest(r.Context(), req.BatchID, execution.TriggerAPI)
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrConflict, err))
			return
		}
		h.logger.Error("enqueue ingest", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, triggerResponse{TaskID: taskID, BatchID: req.BatchID})
}

func atoiDefault(raw string, fallback int) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
