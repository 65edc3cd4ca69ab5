package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dre-ingest/internal/execution"
	"github.com/odyssey-erp/dre-ingest/internal/lock"
	"github.com/odyssey-erp/dre-ingest/internal/pipeline"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubRunner struct {
	opts pipeline.Options
	res  pipeline.Result
	err  error
}

func (s *stubRunner) Run(_ context.Context, opts pipeline.Options) (pipeline.Result, error) {
	s.opts = opts
	return s.res, s.err
}

func TestNewIngestTaskPayload(t *testing.T) {
	task, err := NewIngestTask("", "", 2)
	require.NoError(t, err)
	require.Equal(t, TaskIngest, task.Type())

	var payload IngestPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, execution.TriggerSchedule, payload.Trigger)
	require.Empty(t, payload.BatchID)
}

func TestIngestJobRunsPipeline(t *testing.T) {
	runner := &stubRunner{res: pipeline.Result{ExecutionID: uuid.New(), Status: execution.StatusPartial}}
	job := &IngestJob{Runner: runner, Logger: quietLogger()}

	task, err := NewIngestTask("HITSS_MANUAL_9", execution.TriggerAPI, 0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, "HITSS_MANUAL_9", runner.opts.BatchID)
	require.Equal(t, execution.TriggerAPI, runner.opts.Trigger)
}

func TestIngestJobSkipsRetryWhenLocked(t *testing.T) {
	runner := &stubRunner{err: &lock.AlreadyRunningError{Name: "dre:ingest"}}
	job := &IngestJob{Runner: runner, Logger: quietLogger()}

	err := job.Handle(context.Background(), asynq.NewTask(TaskIngest, nil))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, execution.TriggerSchedule, runner.opts.Trigger)
}

func TestIngestJobReturnsFatalErrorForRetry(t *testing.T) {
	boom := errors.New("download failed")
	job := &IngestJob{Runner: &stubRunner{err: boom, res: pipeline.Result{Status: execution.StatusFailed}}, Logger: quietLogger()}

	err := job.Handle(context.Background(), asynq.NewTask(TaskIngest, nil))
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestIngestJobRejectsBadPayload(t *testing.T) {
	job := &IngestJob{Runner: &stubRunner{}, Logger: quietLogger()}
	err := job.Handle(context.Background(), asynq.NewTask(TaskIngest, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeMailer struct {
	sent []SendEmailPayload
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg SendEmailPayload) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestSendEmailJob(t *testing.T) {
	mailer := &fakeMailer{}
	job := &SendEmailJob{Mailer: mailer, Logger: quietLogger()}

	task, err := NewSendEmailTask(SendEmailPayload{To: "fin@example.com", Subject: "hi", Body: "<p>ok</p>"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, mailer.sent, 1)

	noTo, err := NewSendEmailTask(SendEmailPayload{Subject: "hi"})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), noTo), asynq.SkipRetry)

	mailer.err = errors.New("relay down")
	require.ErrorContains(t, job.Handle(context.Background(), task), "relay down")
}

func TestSplitRecipients(t *testing.T) {
	require.Equal(t, []string{"a@x.com", "b@x.com"}, splitRecipients(" a@x.com, ,b@x.com "))
	require.Nil(t, splitRecipients(" "))
}

type fakeEmailQueue struct {
	payloads []SendEmailPayload
}

func (f *fakeEmailQueue) EnqueueSendEmail(_ context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{ID: "mail-1"}, nil
}

func TestMailNotifierSanitizesSummary(t *testing.T) {
	queue := &fakeEmailQueue{}
	n := NewMailNotifier(queue, "fin@example.com")
	require.NotNil(t, n)

	res := pipeline.Result{
		ExecutionID:  uuid.New(),
		BatchID:      "HITSS_AUTO_1",
		Status:       execution.StatusFailed,
		ErrorMessage: `download: HTTP 502 <script>alert("x")</script>`,
		Steps: []execution.StepEvent{
			{Step: execution.StepDownload, Status: execution.StepError, Message: "<b>bad gateway</b>", At: time.Unix(0, 0)},
		},
	}
	require.NoError(t, n.Notify(context.Background(), res))
	require.Len(t, queue.payloads, 1)

	mail := queue.payloads[0]
	require.Equal(t, "fin@example.com", mail.To)
	require.Equal(t, "[DRE] ingestion failed: HITSS_AUTO_1", mail.Subject)
	require.NotContains(t, mail.Body, "<script>")
	require.NotContains(t, mail.Body, "<b>bad gateway</b>")
	require.Contains(t, mail.Body, "HTTP 502")
	require.Contains(t, mail.Body, "DOWNLOAD_HITSS")
}

func TestMailNotifierDisabledWithoutRecipient(t *testing.T) {
	n := NewMailNotifier(&fakeEmailQueue{}, "")
	require.Nil(t, n)
	require.NoError(t, n.Notify(context.Background(), pipeline.Result{}))
}

type stubInspector struct {
	info    *asynq.QueueInfo
	active  []*asynq.TaskInfo
	pending []*asynq.TaskInfo
	err     error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func (s stubInspector) ListActiveTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.active, s.err
}

func (s stubInspector) ListPendingTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.pending, s.err
}

func serveJobs(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHandlerHealth(t *testing.T) {
	h := NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 1, Active: 1, Retry: 2}}, quietLogger())
	rr := serveJobs(t, h, "/jobs/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var health QueueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	require.Equal(t, QueueHealth{Queue: QueueDefault, Pending: 1, Active: 1, Retry: 2}, health)

	down := NewHandler(stubInspector{err: errors.New("redis down")}, quietLogger())
	require.Equal(t, http.StatusServiceUnavailable, serveJobs(t, down, "/jobs/health").Code)
}

func TestHandlerListsIngestTasks(t *testing.T) {
	payload, err := json.Marshal(IngestPayload{BatchID: "manual_1", Trigger: execution.TriggerAPI})
	require.NoError(t, err)
	h := NewHandler(stubInspector{
		active: []*asynq.TaskInfo{{ID: "a", Type: TaskIngest, State: asynq.TaskStateActive}},
		pending: []*asynq.TaskInfo{
			{ID: "p", Type: TaskIngest, State: asynq.TaskStatePending, Payload: payload},
			{ID: "m", Type: TaskTypeSendEmail, State: asynq.TaskStatePending},
		},
	}, quietLogger())

	rr := serveJobs(t, h, "/jobs/ingest")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Tasks []QueuedIngest `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Tasks, 2)
	require.Equal(t, "active", body.Tasks[0].State)
	require.Equal(t, "manual_1", body.Tasks[1].BatchID)
	require.Equal(t, execution.TriggerAPI, body.Tasks[1].Trigger)
}
