package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/api"
	"jobinsight/discovery-service/internal/cache"
	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/model"
	"jobinsight/discovery-service/internal/scheduler"
)

type fakeJobs struct {
	limits []int
	err    error
}

func (f *fakeJobs) GetJobs(_ context.Context, text string, limit int) (cache.Result, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return cache.Result{}, f.err
	}
	if limit < 0 {
		return cache.Result{}, errors.InvalidRequestf("limit must not be negative, got %d", limit)
	}
	return cache.Result{
		Keyword: model.Keyword{ID: 1, Text: strings.ToLower(text)},
		Jobs:    []model.Job{{ID: 9, Title: "Go Developer", Link: "https://jobvision.ir/jobs/9", Requirements: []string{"Go"}}},
		Partial: limit > 1,
		Note:    "only 1 of 2 requested jobs are available",
	}, nil
}

type fakeKeywords map[string]bool

func (f fakeKeywords) Lookup(_ context.Context, text string) (model.Keyword, error) {
	if f[text] {
		return model.Keyword{ID: 1, Text: text}, nil
	}
	return model.Keyword{}, errors.Wrapf(errors.ErrNotFound, "keyword %q", text)
}

type fakeQueue struct {
	mu    sync.Mutex
	items []model.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, text string, requester *string) (model.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it := model.QueueItem{ID: int64(len(q.items) + 1), Keyword: strings.ToLower(text), RequesterID: requester, Status: model.QueuePending}
	q.items = append(q.items, it)
	return it, nil
}

func (q *fakeQueue) Get(_ context.Context, id int64) (model.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if id < 1 || int(id) > len(q.items) {
		return model.QueueItem{}, errors.Wrapf(errors.ErrNotFound, "queue item %d", id)
	}
	return q.items[id-1], nil
}

type fakeTrigger struct{ keywords []string }

func (f *fakeTrigger) TriggerKeyword(kw string) (scheduler.RunID, error) {
	f.keywords = append(f.keywords, kw)
	return scheduler.RunID("on_demand_" + kw + "_1"), nil
}

type env struct {
	jobs    *fakeJobs
	queue   *fakeQueue
	trigger *fakeTrigger
	srv     http.Handler
}

func newEnv() *env {
	e := &env{jobs: &fakeJobs{}, queue: &fakeQueue{}, trigger: &fakeTrigger{}}
	h := api.NewHandler(api.Deps{
		Jobs:     e.jobs,
		Keywords: fakeKeywords{"golang": true},
		Queue:    e.queue,
		Trigger:  e.trigger,
	}, "test", zap.NewNop())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	e.srv = api.WithRequestLogging(mux, zap.NewNop())
	return e
}

func (e *env) do(method, path, body, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("x-user-id", user)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	rec := newEnv().do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(api.HeaderRequestID))
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestJobs(t *testing.T) {
	e := newEnv()

	rec := e.do(http.MethodPost, "/jobs", `{"keyword":"GoLang","limit":2}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.JobsResponse](t, rec)
	assert.Equal(t, "golang", resp.Keyword)
	assert.Len(t, resp.Jobs, 1)
	assert.True(t, resp.Partial)
	assert.NotEmpty(t, resp.Note)

	rec = e.do(http.MethodPost, "/jobs", `{"keyword":"go"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{2, 10}, e.jobs.limits, "default limit")
}

func TestJobs_BadRequests(t *testing.T) {
	e := newEnv()
	cases := map[string]struct {
		method, body string
		code         int
	}{
		"wrong method":   {http.MethodGet, "", http.StatusMethodNotAllowed},
		"bad json":       {http.MethodPost, `{`, http.StatusBadRequest},
		"no keyword":     {http.MethodPost, `{"limit":3}`, http.StatusBadRequest},
		"negative limit": {http.MethodPost, `{"keyword":"go","limit":-1}`, http.StatusBadRequest},
		"huge limit":     {http.MethodPost, `{"keyword":"go","limit":5000}`, http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := e.do(tc.method, "/jobs", tc.body, "")
			assert.Equal(t, tc.code, rec.Code)
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestJobs_InternalErrorHidden(t *testing.T) {
	e := newEnv()
	e.jobs.err = errors.Mark(errors.New("pq: password authentication failed"), errors.ErrTransientStore)
	rec := e.do(http.MethodPost, "/jobs", `{"keyword":"go"}`, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestJobRequest(t *testing.T) {
	t.Run("requires user", func(t *testing.T) {
		rec := newEnv().do(http.MethodPost, "/jobs/request", `{"keyword":"golang"}`, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("warm keyword served", func(t *testing.T) {
		e := newEnv()
		rec := e.do(http.MethodPost, "/jobs/request", `{"keyword":"golang","limit":1}`, "user-1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, e.queue.items)
		assert.Empty(t, e.trigger.keywords)
	})

	t.Run("cold keyword queued", func(t *testing.T) {
		e := newEnv()
		rec := e.do(http.MethodPost, "/jobs/request", `{"keyword":"Elixir"}`, "user-2")
		require.Equal(t, http.StatusAccepted, rec.Code)
		resp := decode[api.QueuedResponse](t, rec)
		assert.Equal(t, int64(1), resp.QueueItemID)
		assert.Equal(t, "on_demand_elixir_1", resp.RunID)
		assert.Contains(t, resp.Detail, "notified")

		require.Len(t, e.queue.items, 1)
		require.NotNil(t, e.queue.items[0].RequesterID)
		assert.Equal(t, "user-2", *e.queue.items[0].RequesterID)
		assert.Equal(t, []string{"elixir"}, e.trigger.keywords)
		assert.Empty(t, e.jobs.limits, "nothing scraped synchronously")
	})
}

func TestQueueRoutes(t *testing.T) {
	e := newEnv()

	rec := e.do(http.MethodPost, "/queue", `{"keyword":"rust"}`, "user-3")
	require.Equal(t, http.StatusCreated, rec.Code)
	item := decode[model.QueueItem](t, rec)
	assert.Equal(t, "rust", item.Keyword)
	assert.Equal(t, model.QueuePending, item.Status)

	rec = e.do(http.MethodPost, "/queue", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/queue/1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, item.ID, decode[model.QueueItem](t, rec).ID)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/queue/99", "", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/queue/abc", "", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, e.do(http.MethodDelete, "/queue/1", "", "").Code)
}

func TestRequestIDPropagated(t *testing.T) {
	e := newEnv()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(api.HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(api.HeaderRequestID))
}
