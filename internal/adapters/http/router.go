package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/evidence-journal/internal/config"
	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
	"github.com/kirillkom/evidence-journal/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	cfg       config.Config
	submitter ports.DocumentSubmitter
	reader    ports.JournalReader
	queue     ports.WorkQueue
	reprocess ports.Reprocessor
	approver  ports.ReviewApprover

	metrics *metrics.HTTPServerMetrics
	health  func() map[string]any
}

type Option func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) Option {
	return func(rt *Router) { rt.metrics = m }
}

// WithHealth adds dependency state to /healthz.
func WithHealth(fn func() map[string]any) Option {
	return func(rt *Router) { rt.health = fn }
}

func NewRouter(
	cfg config.Config,
	submitter ports.DocumentSubmitter,
	reader ports.JournalReader,
	queue ports.WorkQueue,
	reprocess ports.Reprocessor,
	approver ports.ReviewApprover,
	opts ...Option,
) *Router {
	rt := &Router{
		cfg:       cfg,
		submitter: submitter,
		reader:    reader,
		queue:     queue,
		reprocess: reprocess,
		approver:  approver,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Handler builds the middleware chain. It fails only when the embedded
// OpenAPI document is broken.
func (rt *Router) Handler() (http.Handler, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/documents", rt.submitDocument)
	api.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	api.HandleFunc("GET /v1/documents/{id}/history", rt.getHistory)
	api.HandleFunc("POST /v1/documents/{id}/reprocess", rt.reprocessDocument)
	api.HandleFunc("POST /v1/documents/{id}/approve", rt.approveDocument)
	api.HandleFunc("GET /v1/queue", rt.listQueue)
	api.HandleFunc("POST /v1/queue/claim", rt.claimEntry)
	api.HandleFunc("POST /v1/queue/{id}/complete", rt.completeEntry)
	api.HandleFunc("POST /v1/queue/{id}/fail", rt.failEntry)
	api.HandleFunc("GET /v1/stats", rt.getStats)

	var onRateLimited, onShed func()
	if rt.metrics != nil {
		onRateLimited = func() { rt.metrics.RecordRejected(serviceName, "rate_limit") }
		onShed = func() { rt.metrics.RecordRejected(serviceName, "backpressure") }
	}
	var guarded http.Handler = validator.middleware(api)
	guarded = backpressureWithHook(guarded, rt.cfg.APIMaxInFlight, rt.cfg.APIMaxInFlightWait, onShed)
	guarded = rateLimitMiddleware(guarded, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onRateLimited)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	root.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(OpenAPIDocument())
	})
	if rt.metrics != nil {
		root.Handle("GET /metrics", rt.metrics.Handler())
	}
	root.Handle("/v1/", guarded)

	var handler http.Handler = root
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler)), nil
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{"status": "ok"}
	if rt.health != nil {
		for k, v := range rt.health() {
			payload[k] = v
		}
		if connected, ok := payload["nats_connected"].(bool); ok && !connected {
			payload["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (rt *Router) submitDocument(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxDocumentBytes > 0 {
		// Leave room for the multipart envelope around the file part.
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxDocumentBytes+1<<20)
	}
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "document exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read uploaded file: "+err.Error())
		return
	}
	if rt.cfg.MaxDocumentBytes > 0 && int64(len(content)) > rt.cfg.MaxDocumentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "document exceeds size limit")
		return
	}

	channel := domain.SourceChannel(strings.TrimSpace(r.FormValue("source_channel")))
	if channel == "" {
		channel = domain.ChannelAPI
	}

	entry, err := rt.submitter.Submit(r.Context(), domain.Submission{
		Filename:      fileHeader.Filename,
		MimeType:      fileHeader.Header.Get("Content-Type"),
		SourceChannel: channel,
		Content:       content,
	})
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordSubmission(serviceName, string(entry.SourceChannel), string(entry.QueueStatus))
	}
	writeJSON(w, http.StatusAccepted, entry)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := rt.reader.Get(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (rt *Router) getHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	events, err := rt.reader.History(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (rt *Router) reprocessDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := rt.reprocess.Reprocess(r.Context(), id, req.Reason)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (rt *Router) approveDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reviewer string `json:"reviewer"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	entry, err := rt.approver.ApproveReview(r.Context(), id, req.Reviewer)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (rt *Router) listQueue(w http.ResponseWriter, r *http.Request) {
	limit := rt.cfg.APIQueuePeekDefault
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %v", err))
		return
	}
	entries, err := rt.queue.ListQueued(r.Context(), limit)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (rt *Router) claimEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := rt.queue.Claim(r.Context(), req.WorkerID)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordClaim(serviceName, entry != nil)
	}
	if entry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (rt *Router) completeEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		WorkerID string          `json:"worker_id"`
		Result   json.RawMessage `json:"result"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := rt.queue.Complete(r.Context(), id, req.WorkerID, req.Result)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (rt *Router) failEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		WorkerID string `json:"worker_id"`
		Reason   string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := rt.queue.Fail(r.Context(), id, req.WorkerID, req.Reason)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (rt *Router) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.reader.Stats(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", r.PathValue("id"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Required:      true,
	})
	if err != nil || strings.TrimSpace(id) == "" {
		writeError(w, http.StatusBadRequest, "entry id is required")
		return "", false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
