package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/retailscout/catalog-crawler/internal/catalog"
)

type fakeRunSource struct {
	info RunInfo
}

func (f *fakeRunSource) RunInfo() RunInfo { return f.info }

func crawlInfo() RunInfo {
	return RunInfo{
		RunID:     "run-1",
		State:     RunCrawling,
		StartedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Counters:  catalog.Counters{PagesFetched: 7, UniqueProducts: 42},
		FailedUnits: []catalog.FailedUnit{{
			Unit:    catalog.CrawlUnit{StoreID: "s1", CanonicalID: "100", Page: 2},
			Retries: 3,
			Reason:  "blocked",
		}},
	}
}

func get(t *testing.T, srv *Server, path string) (*http.Response, []byte) {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, body
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeRunSource{}, prometheus.NewRegistry(), zap.NewNop())

	resp, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = get(t, srv, "/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunStatusOmitsDetail(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeRunSource{info: crawlInfo()}, prometheus.NewRegistry(), zap.NewNop())
	resp, body := get(t, srv, "/v1/run/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, "crawling", got["state"])
	assert.NotContains(t, got, "failed_units")
	assert.NotContains(t, got, "report")
}

func TestRunReportLifecycle(t *testing.T) {
	t.Parallel()

	source := &fakeRunSource{info: crawlInfo()}
	srv := NewServer(source, prometheus.NewRegistry(), zap.NewNop())

	resp, _ := get(t, srv, "/v1/run/report")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	source.info.State = RunDone
	source.info.Report = &catalog.RunReport{RunID: "run-1", TargetCoverage: 0.95}
	resp, body := get(t, srv, "/v1/run/report")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report catalog.RunReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 0.95, report.TargetCoverage)
}

func TestRunFailedList(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeRunSource{info: crawlInfo()}, prometheus.NewRegistry(), zap.NewNop())
	resp, body := get(t, srv, "/v1/run/failed")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		RunID       string               `json:"run_id"`
		FailedUnits []catalog.FailedUnit `json:"failed_units"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "run-1", got.RunID)
	require.Len(t, got.FailedUnits, 1)
	assert.Equal(t, "blocked", got.FailedUnits[0].Reason)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "crawler_test_total", Help: "test"})
	require.NoError(t, reg.Register(counter))
	counter.Inc()

	srv := NewServer(&fakeRunSource{}, reg, zap.NewNop())
	resp, body := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "crawler_test_total 1")
}

func TestReadyzWithoutSource(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, prometheus.NewRegistry(), zap.NewNop())
	resp, _ := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
