// Package api implements the HTTP surface of the discovery service.
//
// Routes that act for a user expect an x-user-id header forwarded by the
// Gateway.
//
// Routes:
//
//	GET  /health          → liveness
//	POST /jobs            → jobs for a keyword, scraping if needed
//	POST /jobs/request    → cached jobs, or queue the keyword and notify later
//	POST /queue           → enqueue a keyword
//	GET  /queue/{id}      → queue item status
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/cache"
	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/logging"
	"jobinsight/discovery-service/internal/model"
	"jobinsight/discovery-service/internal/scheduler"
)

const (
	defaultLimit = 10
	maxLimit     = 200
	maxBodyBytes = 1 << 20
)

// ─── Dependencies ────────────────────────────────────────────────────────────

// JobService serves jobs for a keyword. *cache.Cache satisfies it.
type JobService interface {
	GetJobs(ctx context.Context, text string, limit int) (cache.Result, error)
}

// KeywordLookup reports whether a keyword is registered.
type KeywordLookup interface {
	Lookup(ctx context.Context, text string) (model.Keyword, error)
}

// QueueService stores and reads queue items. *queue.Queue satisfies it.
type QueueService interface {
	Enqueue(ctx context.Context, text string, requesterID *string) (model.QueueItem, error)
	Get(ctx context.Context, id int64) (model.QueueItem, error)
}

// Trigger starts an on-demand run. *scheduler.Scheduler satisfies it.
type Trigger interface {
	TriggerKeyword(keyword string) (scheduler.RunID, error)
}

// Deps are the Handler's collaborators. Trigger may be nil, in which case
// queued keywords wait for the next sweep.
type Deps struct {
	Jobs     JobService
	Keywords KeywordLookup
	Queue    QueueService
	Trigger  Trigger
}

// ─── Response types ──────────────────────────────────────────────────────────

// JobsResponse is the JSON shape of a served result.
type JobsResponse struct {
	Keyword   string      `json:"keyword"`
	Jobs      []model.Job `json:"jobs"`
	Partial   bool        `json:"partial"`
	Note      string      `json:"note,omitempty"`
	StaleUsed int         `json:"staleUsed,omitempty"`
}

// QueuedResponse is returned when a request is deferred to the queue.
type QueuedResponse struct {
	Detail      string `json:"detail"`
	QueueItemID int64  `json:"queueItemId"`
	RunID       string `json:"runId,omitempty"`
}

type jobsRequest struct {
	Keyword string `json:"keyword"`
	Limit   *int   `json:"limit"`
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	deps    Deps
	version string
	logger  *zap.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(deps Deps, version string, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, version: version, logger: logger.Named("api")}
}

// RegisterRoutes mounts all discovery-service routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/jobs", h.handleJobs)
	mux.HandleFunc("/jobs/request", h.handleJobRequest)
	mux.HandleFunc("/queue", h.handleEnqueue)
	mux.HandleFunc("/queue/", h.handleQueueItem)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "discovery-service",
		"version": h.version,
	})
}

// handleJobs handles POST /jobs
func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, ok := h.decodeJobsRequest(w, r)
	if !ok {
		return
	}
	h.serveJobs(w, r, req)
}

// handleJobRequest handles POST /jobs/request. A registered keyword is served
// from the cache; an unknown one is queued for the user and processed in the
// background.
func (h *Handler) handleJobRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}
	req, ok := h.decodeJobsRequest(w, r)
	if !ok {
		return
	}

	_, err := h.deps.Keywords.Lookup(r.Context(), req.Keyword)
	switch {
	case err == nil:
		h.serveJobs(w, r, req)
		return
	case !errors.IsNotFound(err):
		h.writeError(w, r, err)
		return
	}

	item, err := h.deps.Queue.Enqueue(r.Context(), req.Keyword, &userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := QueuedResponse{
		Detail:      "Your request has been queued. You will be notified once it has been processed.",
		QueueItemID: item.ID,
	}
	if h.deps.Trigger != nil {
		runID, err := h.deps.Trigger.TriggerKeyword(item.Keyword)
		if err != nil {
			h.logger.Warn("on-demand trigger failed, item waits for the next sweep",
				zap.Int64(logging.FieldQueueItemID, item.ID), zap.Error(err))
		} else {
			resp.RunID = string(runID)
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleEnqueue handles POST /queue
func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Keyword string `json:"keyword"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Keyword) == "" {
		jsonError(w, "body must contain keyword", http.StatusBadRequest)
		return
	}

	var requester *string
	if u := r.Header.Get("x-user-id"); u != "" {
		requester = &u
	}
	item, err := h.deps.Queue.Enqueue(r.Context(), body.Keyword, requester)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// handleQueueItem handles GET /queue/{id}
func (h *Handler) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/queue/"), "/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, "invalid queue item id", http.StatusNotFound)
		return
	}
	item, err := h.deps.Queue.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (h *Handler) decodeJobsRequest(w http.ResponseWriter, r *http.Request) (jobsRequest, bool) {
	var req jobsRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.Keyword) == "" {
		jsonError(w, "body must contain keyword", http.StatusBadRequest)
		return req, false
	}
	if req.Limit == nil {
		l := defaultLimit
		req.Limit = &l
	}
	if *req.Limit > maxLimit {
		jsonError(w, fmt.Sprintf("limit must be at most %d", maxLimit), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (h *Handler) serveJobs(w http.ResponseWriter, r *http.Request, req jobsRequest) {
	res, err := h.deps.Jobs.GetJobs(r.Context(), req.Keyword, *req.Limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jobs := res.Jobs
	if jobs == nil {
		jobs = []model.Job{}
	}
	keyword := res.Keyword.Text
	if keyword == "" {
		keyword = strings.TrimSpace(req.Keyword)
	}
	writeJSON(w, http.StatusOK, JobsResponse{
		Keyword:   keyword,
		Jobs:      jobs,
		Partial:   res.Partial,
		Note:      res.Note,
		StaleUsed: res.StaleUsed,
	})
}

// writeError maps the error taxonomy to HTTP status codes. Internal errors
// are logged and not echoed.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errors.ErrInvalidRequest):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.IsNotFound(err):
		jsonError(w, "not found", http.StatusNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		jsonError(w, "request timed out", http.StatusGatewayTimeout)
	default:
		h.logger.Error("request failed",
			zap.String(logging.FieldRequestID, RequestID(r.Context())),
			zap.String("path", r.URL.Path), zap.Error(err))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
