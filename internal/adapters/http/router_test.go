package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/evidence-journal/internal/config"
	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/observability/metrics"
)

var errBoom = errors.New("boom")

type journalFake struct {
	submitted []domain.Submission
	entries   map[string]*domain.JournalEntry
	claimable *domain.JournalEntry
	claimedBy string
	queueErr  error
	limit     int
}

func newJournalFake() *journalFake {
	return &journalFake{entries: map[string]*domain.JournalEntry{
		"e1": {ID: "e1", ContentHash: "abc", QueueStatus: domain.StatusQueued, Priority: 9},
	}}
}

func (f *journalFake) Submit(_ context.Context, sub domain.Submission) (*domain.JournalEntry, error) {
	if !sub.SourceChannel.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit", errBoom)
	}
	f.submitted = append(f.submitted, sub)
	return &domain.JournalEntry{ID: "new", ContentHash: "h", QueueStatus: domain.StatusPending, SourceChannel: sub.SourceChannel}, nil
}

func (f *journalFake) Get(_ context.Context, id string) (*domain.JournalEntry, error) {
	entry, ok := f.entries[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrEntryNotFound, "get entry", errBoom)
	}
	return entry, nil
}

func (f *journalFake) History(ctx context.Context, id string) ([]domain.AuditEvent, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *journalFake) Stats(context.Context) (domain.QueueStats, error) {
	stats := domain.QueueStats{ByStatus: map[domain.QueueStatus]int{domain.StatusQueued: 1}, Total: 1}
	stats.Finalize()
	return stats, nil
}

func (f *journalFake) Claim(_ context.Context, workerID string) (*domain.JournalEntry, error) {
	f.claimedBy = workerID
	return f.claimable, nil
}

func (f *journalFake) Complete(_ context.Context, id, workerID string, result json.RawMessage) (*domain.JournalEntry, error) {
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	return &domain.JournalEntry{ID: id, ContentHash: "abc", QueueStatus: domain.StatusCompleted, ClaimedBy: workerID, ProcessingResult: result}, nil
}

func (f *journalFake) Fail(_ context.Context, id, workerID, reason string) (*domain.JournalEntry, error) {
	return &domain.JournalEntry{ID: id, ContentHash: "abc", QueueStatus: domain.StatusFailed, ClaimedBy: workerID, FailureReason: reason}, nil
}

func (f *journalFake) ListQueued(_ context.Context, limit int) ([]domain.JournalEntry, error) {
	f.limit = limit
	return []domain.JournalEntry{*f.entries["e1"]}, nil
}

func (f *journalFake) Reprocess(_ context.Context, id, reason string) (*domain.JournalEntry, error) {
	return nil, domain.WrapError(domain.ErrInvalidTransition, "reprocess", errBoom)
}

func (f *journalFake) ApproveReview(_ context.Context, id, reviewer string) (*domain.JournalEntry, error) {
	return &domain.JournalEntry{ID: id, ContentHash: "abc", QueueStatus: domain.StatusQueued}, nil
}

func newTestHandler(t *testing.T, cfg config.Config, fake *journalFake) http.Handler {
	t.Helper()
	if cfg.APIQueuePeekDefault == 0 {
		cfg.APIQueuePeekDefault = 50
	}
	handler, err := NewRouter(cfg, fake, fake, fake, fake, fake,
		WithMetrics(metrics.NewHTTPServerMetrics("api")),
		WithHealth(func() map[string]any { return map[string]any{"nats_connected": true} }),
	).Handler()
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	return handler
}

func doJSON(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func multipartUpload(t *testing.T, filename, channel string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if channel != "" {
		if err := writer.WriteField("source_channel", channel); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestHealthzIncludesDependencies(t *testing.T) {
	res := doJSON(newTestHandler(t, config.Config{}, newJournalFake()), http.MethodGet, "/healthz", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" || payload["nats_connected"] != true {
		t.Fatalf("unexpected health payload: %v", payload)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestSubmitDocumentDefaultsToAPIChannel(t *testing.T) {
	fake := newJournalFake()
	handler := newTestHandler(t, config.Config{MaxDocumentBytes: 1024}, fake)

	body, contentType := multipartUpload(t, "contract.txt", "", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(fake.submitted) != 1 || fake.submitted[0].SourceChannel != domain.ChannelAPI || fake.submitted[0].Filename != "contract.txt" {
		t.Fatalf("unexpected submissions: %+v", fake.submitted)
	}
}

func TestSubmitDocumentRejectsOversizedFile(t *testing.T) {
	fake := newJournalFake()
	handler := newTestHandler(t, config.Config{MaxDocumentBytes: 4}, fake)

	body, contentType := multipartUpload(t, "big.txt", "mobile_upload", []byte("far too long"))
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
	if len(fake.submitted) != 0 {
		t.Fatalf("oversized document must not be submitted")
	}
}

func TestSubmitDocumentMissingFileField(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, newJournalFake())
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", bytes.NewBufferString("plain-text"))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetDocumentMapsNotFound(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, newJournalFake())
	if res := doJSON(handler, http.MethodGet, "/v1/documents/e1", ""); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res := doJSON(handler, http.MethodGet, "/v1/documents/missing", ""); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestClaimReturnsNoContentWhenQueueEmpty(t *testing.T) {
	fake := newJournalFake()
	handler := newTestHandler(t, config.Config{}, fake)

	res := doJSON(handler, http.MethodPost, "/v1/queue/claim", `{"worker_id":"w1"}`)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", res.Code, res.Body.String())
	}
	if fake.claimedBy != "w1" {
		t.Fatalf("expected worker id to reach the queue, got %q", fake.claimedBy)
	}

	fake.claimable = fake.entries["e1"]
	res = doJSON(handler, http.MethodPost, "/v1/queue/claim", `{"worker_id":"w1"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestClaimRequiresWorkerID(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, newJournalFake())
	res := doJSON(handler, http.MethodPost, "/v1/queue/claim", `{}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 from request validation, got %d", res.Code)
	}
}

func TestListQueueBindsLimit(t *testing.T) {
	fake := newJournalFake()
	handler := newTestHandler(t, config.Config{}, fake)

	res := doJSON(handler, http.MethodGet, "/v1/queue?limit=7", "")
	if res.Code != http.StatusOK || fake.limit != 7 {
		t.Fatalf("expected limit 7 and 200, got %d / %d", fake.limit, res.Code)
	}
	res = doJSON(handler, http.MethodGet, "/v1/queue", "")
	if res.Code != http.StatusOK || fake.limit != 50 {
		t.Fatalf("expected default limit 50, got %d", fake.limit)
	}
	if res := doJSON(handler, http.MethodGet, "/v1/queue?limit=9000", ""); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit above maximum, got %d", res.Code)
	}
}

func TestCompleteConflictMapsTo409(t *testing.T) {
	fake := newJournalFake()
	fake.queueErr = domain.WrapError(domain.ErrStatusConflict, "complete", errBoom)
	handler := newTestHandler(t, config.Config{}, fake)

	res := doJSON(handler, http.MethodPost, "/v1/queue/e1/complete", `{"worker_id":"w1","result":{"pages":3}}`)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestReprocessRejectedTransitionMapsTo409(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, newJournalFake())
	res := doJSON(handler, http.MethodPost, "/v1/documents/e1/reprocess", `{"reason":"new rules"}`)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
	if res := doJSON(handler, http.MethodPost, "/v1/documents/e1/reprocess", `{"reason":""}`); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty reason, got %d", res.Code)
	}
}

func TestStatsAndMetricsEndpoints(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, newJournalFake())
	if res := doJSON(handler, http.MethodGet, "/v1/stats", ""); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	res := doJSON(handler, http.MethodGet, "/metrics", "")
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "journal_http_requests_total") {
		t.Fatalf("expected request metrics, got %d", res.Code)
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := map[error]int{
		domain.ErrInvalidInput:       http.StatusBadRequest,
		domain.ErrEntryNotFound:      http.StatusNotFound,
		domain.ErrInvalidTransition:  http.StatusConflict,
		domain.ErrStorageUnavailable: http.StatusServiceUnavailable,
		domain.ErrTemporary:          http.StatusServiceUnavailable,
		errBoom:                      http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := mapErrorToHTTPStatus(domain.WrapError(err, "op", errBoom)); got != want {
			t.Fatalf("%v: expected %d, got %d", err, want, got)
		}
	}
}
