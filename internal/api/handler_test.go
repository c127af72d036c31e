package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NathanEdg/SpikeReports/internal/aggregate"
	"github.com/NathanEdg/SpikeReports/internal/collector"
	"github.com/NathanEdg/SpikeReports/internal/domain"
	"github.com/NathanEdg/SpikeReports/internal/store"
)

type fakeSessions struct {
	sessions []domain.CollectionSession
	reports  map[string][]domain.CollectedReport
	resetErr error
}

func (f *fakeSessions) Sessions() []domain.CollectionSession { return f.sessions }

func (f *fakeSessions) Reports(channelID string) []domain.CollectedReport {
	return f.reports[channelID]
}

func (f *fakeSessions) ResetAll(context.Context) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	f.sessions, f.reports = nil, nil
	return nil
}

type fakeAggregator struct {
	mu      sync.Mutex
	res     *aggregate.Result
	err     error
	calls   int
	running bool
}

func (f *fakeAggregator) Run(context.Context) (*aggregate.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.res, f.err
}

func (f *fakeAggregator) Running() bool { return f.running }

type fakeCollector struct {
	manifest collector.Manifest
}

func (f *fakeCollector) StartCollection(context.Context) collector.Manifest { return f.manifest }

type apiHarness struct {
	store    *store.SQLiteStore
	sessions *fakeSessions
	agg      *fakeAggregator
	coll     *fakeCollector
	srv      http.Handler
}

func newAPIHarness(t *testing.T, token string) *apiHarness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sessions := &fakeSessions{
		sessions: []domain.CollectionSession{{ChannelID: "C1", ThreadID: "100.1", OpenedAt: time.Now()}},
		reports:  map[string][]domain.CollectedReport{"C1": {{Body: "x"}, {Body: "y"}}},
	}
	h := &apiHarness{
		store:    st,
		sessions: sessions,
		agg:      &fakeAggregator{res: &aggregate.Result{Skipped: true}},
		coll:     &fakeCollector{},
	}
	h.srv = NewRouter(NewHandler(st, sessions, h.agg, h.coll), token)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.srv.ServeHTTP(w, req)
	return w
}

func (h *apiHarness) seed(t *testing.T, dates ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(dates))
	for _, d := range dates {
		id, err := h.store.SaveSummary(context.Background(), domain.NewSummaryRecord(d, "master "+d, "", []domain.ChannelSummary{
			{ChannelID: "C1", TeamLabel: "Engineering", Summary: "s", ReportCount: 2},
		}, time.Now()))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got map[string]string
	decode(t, w, &got)
	assert.Equal(t, "bar", got["foo"])
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t, "")
	w := h.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 1, body["open_sessions"])

	require.NoError(t, h.store.Close())
	w = h.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListSummariesPaginates(t *testing.T) {
	h := newAPIHarness(t, "")
	h.seed(t, "2026-05-01", "2026-05-03", "2026-05-02")

	w := h.do(t, http.MethodGet, "/api/summaries?limit=2")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Summaries []domain.SummaryRecord `json:"summaries"`
		Total     int64                  `json:"total"`
	}
	decode(t, w, &body)
	assert.EqualValues(t, 3, body.Total)
	require.Len(t, body.Summaries, 2)
	assert.Equal(t, "2026-05-03", body.Summaries[0].Date)
	assert.Equal(t, 2, body.Summaries[0].TotalReports)

	w = h.do(t, http.MethodGet, "/api/summaries?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSummaryByIDAndDate(t *testing.T) {
	h := newAPIHarness(t, "")
	ids := h.seed(t, "2026-05-01")

	w := h.do(t, http.MethodGet, "/api/summaries/"+itoa(ids[0]))
	require.Equal(t, http.StatusOK, w.Code)
	var rec domain.SummaryRecord
	decode(t, w, &rec)
	assert.Equal(t, "master 2026-05-01", rec.MasterReport)

	w = h.do(t, http.MethodGet, "/api/summaries/date/2026-05-01")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/summaries/999").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/summaries/abc").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/summaries/date/2020-01-01").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/summaries/date/yesterday").Code)
}

func TestDeleteSummary(t *testing.T) {
	h := newAPIHarness(t, "")
	ids := h.seed(t, "2026-05-01")

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/summaries/"+itoa(ids[0])).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/api/summaries/"+itoa(ids[0])).Code)
}

func TestListSessions(t *testing.T) {
	h := newAPIHarness(t, "")
	w := h.do(t, http.MethodGet, "/api/sessions")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sessions []sessionView `json:"sessions"`
	}
	decode(t, w, &body)
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "C1", body.Sessions[0].ChannelID)
	assert.Equal(t, 2, body.Sessions[0].Reports)
}

func TestResetSessions(t *testing.T) {
	h := newAPIHarness(t, "")

	h.agg.running = true
	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodDelete, "/api/sessions").Code)
	assert.Len(t, h.sessions.sessions, 1)

	h.agg.running = false
	h.sessions.resetErr = errors.New("disk full")
	assert.Equal(t, http.StatusInternalServerError, h.do(t, http.MethodDelete, "/api/sessions").Code)

	h.sessions.resetErr = nil
	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/sessions").Code)
	assert.Empty(t, h.sessions.sessions)
}

func TestAggregateEndpoint(t *testing.T) {
	h := newAPIHarness(t, "")

	w := h.do(t, http.MethodPost, "/api/aggregate")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, true, body["skipped"])

	h.agg.res, h.agg.err = nil, aggregate.ErrRunInProgress
	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, "/api/aggregate").Code)

	h.agg.res, h.agg.err = &aggregate.Result{FailedChannels: []string{"C1"}}, errors.New("every channel summary failed")
	w = h.do(t, http.MethodPost, "/api/aggregate")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "every channel summary failed")
}

func TestCollectEndpoint(t *testing.T) {
	h := newAPIHarness(t, "")
	h.coll.manifest = collector.Manifest{Started: []string{"C1"}}

	w := h.do(t, http.MethodPost, "/api/collect")
	require.Equal(t, http.StatusOK, w.Code)
	var m collector.Manifest
	decode(t, w, &m)
	assert.Equal(t, []string{"C1"}, m.Started)

	h.coll.manifest = collector.Manifest{Failed: []collector.ChannelFailure{{ChannelID: "C1", Error: "x"}}}
	assert.Equal(t, http.StatusBadGateway, h.do(t, http.MethodPost, "/api/collect").Code)
}

func TestAdminTokenGuardsAPIOnly(t *testing.T) {
	h := newAPIHarness(t, "s3cret")

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/metrics").Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/summaries").Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodPost, "/api/aggregate").Code)
	assert.Zero(t, h.agg.calls)

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/summaries", "Authorization", "Bearer s3cret").Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
