package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/KaramelBytes/equiplens-cli/internal/analysis"
	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
	"github.com/KaramelBytes/equiplens-cli/internal/metrics"
	"github.com/KaramelBytes/equiplens-cli/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baselineCSV = `Equipment Name,Type,Flowrate,Pressure,Temperature
P-1,Pump,100,5,100
P-2,Pump,100,6,110
V-1,Valve,100,7,120
`

const shiftedCSV = `Equipment Name,Type,Flowrate,Pressure,Temperature
P-1,Pump,140,5,100
P-2,Pump,140,6,110
V-1,Valve,140,7,120
C-1,Compressor,140,6,110
`

type fixture struct {
	srv   *Server
	store *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, err := store.Open(t.TempDir(), store.Options{Limits: equipment.DefaultLimits(), Retention: 5})
	require.NoError(t, err)
	eng, err := analysis.NewEngine(analysis.DefaultConfig())
	require.NoError(t, err)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	srv, err := New(Options{
		Datasets:       st,
		Engine:         eng,
		Metrics:        m,
		MaxUploadBytes: equipment.DefaultLimits().MaxBytes,
		Now:            func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return &fixture{srv: srv, store: st}
}

func (f *fixture) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return f.do(t, http.MethodPost, "/api/upload/", &buf, w.FormDataContentType())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"Backend initialized"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestUploadAndSummary(t *testing.T) {
	f := newFixture(t)
	rec := f.upload(t, "baseline.csv", baselineCSV)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, 1.0, body["id"])
	assert.Equal(t, "baseline.csv", body["filename"])
	assert.NotEmpty(t, body["uploaded_at"])
	assert.NotContains(t, body, "owner")
	sum := body["summary"].(map[string]any)
	assert.Equal(t, 3.0, sum["total_equipment"])

	rec = f.do(t, http.MethodGet, "/api/summary/1/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	sum = decode(t, rec)
	assert.Equal(t, map[string]any{"flowrate": 100.0, "pressure": 6.0, "temperature": 110.0}, sum["averages"])
	assert.Equal(t, map[string]any{"Pump": 2.0, "Valve": 1.0}, sum["type_distribution"])
}

func TestUploadValidationErrors(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name, file, content, msg string
	}{
		{"wrong extension", "data.txt", baselineCSV, "Invalid file format. Only CSV allowed."},
		{"missing columns", "data.csv", "Equipment Name,Type\nP,Pump\n", "Missing required columns: Flowrate, Pressure, Temperature"},
		{"no rows", "data.csv", "Equipment Name,Type,Flowrate,Pressure,Temperature\n", "CSV file is empty."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.upload(t, tc.file, tc.content)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, map[string]any{"error": "Validation Error", "message": tc.msg}, decode(t, rec))
		})
	}

	rec := f.do(t, http.MethodPost, "/api/upload/", bytes.NewBufferString("nope"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file provided.", decode(t, rec)["message"])
}

func TestCompare(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.upload(t, "a.csv", baselineCSV).Code)
	require.Equal(t, http.StatusCreated, f.upload(t, "b.csv", shiftedCSV).Code)

	rec := f.do(t, http.MethodGet, "/api/compare/?dataset_a=1&dataset_b=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)

	delta := body["delta"].(map[string]any)
	assert.Equal(t, 1.0, delta["total_equipment"])
	assert.Equal(t, 40.0, delta["averages"].(map[string]any)["flowrate"])

	flow := body["comparison_stats"].(map[string]any)["flowrate"].(map[string]any)
	assert.Equal(t, map[string]any{
		"percent_change": 40.0,
		"std_dev_a":      0.0,
		"std_dev_b":      0.0,
		"stability":      "stable",
		"effect_size":    "trivial",
		"risk_level":     "warning",
	}, flow)
	assert.Equal(t, "a.csv", body["dataset_a"].(map[string]any)["filename"])
}

func TestCompareInputErrors(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.upload(t, "a.csv", baselineCSV).Code)

	cases := []struct {
		query string
		code  int
		msg   string
	}{
		{"dataset_a=1", http.StatusBadRequest, "Both dataset_a and dataset_b are required."},
		{"dataset_a=x&dataset_b=1", http.StatusBadRequest, "Dataset IDs must be integers."},
		{"dataset_a=-1&dataset_b=1", http.StatusBadRequest, "Dataset IDs must be integers."},
		{"dataset_a=1&dataset_b=0", http.StatusBadRequest, "Dataset IDs must be integers."},
		{"dataset_a=1&dataset_b=9", http.StatusNotFound, "Dataset 9 not found."},
	}
	for _, tc := range cases {
		rec := f.do(t, http.MethodGet, "/api/compare/?"+tc.query, nil, "")
		assert.Equal(t, tc.code, rec.Code, tc.query)
		assert.Equal(t, tc.msg, decode(t, rec)["message"], tc.query)
	}

	for _, raw := range []string{"abc", "0", "-1"} {
		rec := f.do(t, http.MethodGet, "/api/summary/"+raw+"/", nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, raw)
		assert.Equal(t, "Dataset IDs must be integers.", decode(t, rec)["message"], raw)
	}
	rec := f.do(t, http.MethodDelete, "/api/datasets/0/", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/summary/77/", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decode(t, rec)["error"])
}

func TestCompareWithItselfIsBaseline(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.upload(t, "a.csv", baselineCSV).Code)
	rec := f.do(t, http.MethodGet, "/api/compare/?dataset_a=1&dataset_b=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)["comparison_stats"].(map[string]any)
	for _, m := range []string{"flowrate", "pressure", "temperature"} {
		st := stats[m].(map[string]any)
		assert.Equal(t, 0.0, st["percent_change"], m)
		assert.Equal(t, "trivial", st["effect_size"], m)
	}
}

func TestCompareDegradesWhenSourceMissing(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.upload(t, "a.csv", baselineCSV).Code)
	require.Equal(t, http.StatusCreated, f.upload(t, "b.csv", shiftedCSV).Code)
	d, err := f.store.Get(2)
	require.NoError(t, err)
	require.NoError(t, os.Remove(d.SourcePath()))

	rec := f.do(t, http.MethodGet, "/api/compare/?dataset_a=1&dataset_b=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Empty(t, body["comparison_stats"])
	assert.Equal(t, 1.0, body["delta"].(map[string]any)["total_equipment"])
}

func TestReports(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.upload(t, "a.csv", baselineCSV).Code)
	require.Equal(t, http.StatusCreated, f.upload(t, "b.csv", shiftedCSV).Code)

	rec := f.do(t, http.MethodGet, "/api/report/1/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="report_1.md"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "# Chemical Process Analytical Report")
	assert.Contains(t, rec.Body.String(), "**Generated:** 2026-05-04 12:00")

	rec = f.do(t, http.MethodGet, "/api/report/compare/?dataset_a=1&dataset_b=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "comparison_1_2.md")
	assert.Contains(t, rec.Body.String(), "| Flowrate | +40% | 0 | 0 | stable | trivial | WARNING |")

	rec = f.do(t, http.MethodGet, "/api/report/5/", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryAndDelete(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		require.Equal(t, http.StatusCreated, f.upload(t, fmt.Sprintf("run%d.csv", i), baselineCSV).Code)
	}

	rec := f.do(t, http.MethodGet, "/api/history/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hist []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist, 3)
	assert.Equal(t, "run3.csv", hist[0]["filename"])
	assert.Equal(t, 3.0, hist[0]["total_equipment"])

	rec = f.do(t, http.MethodDelete, "/api/datasets/2/", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/datasets/2/", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/history/", nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Len(t, hist, 2)
}

func TestHistoryRespectsRetention(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 7; i++ {
		require.Equal(t, http.StatusCreated, f.upload(t, fmt.Sprintf("run%d.csv", i), baselineCSV).Code)
	}
	rec := f.do(t, http.MethodGet, "/api/history/", nil, "")
	var hist []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Len(t, hist, 5)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/summary/1/", nil, "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.upload(t, "a.csv", baselineCSV).Code)
	f.upload(t, "a.txt", baselineCSV)
	f.do(t, http.MethodGet, "/api/compare/?dataset_a=1&dataset_b=1", nil, "")

	rec := f.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `equiplens_uploads_total{result="stored"} 1`)
	assert.Contains(t, out, `equiplens_uploads_total{result="invalid"} 1`)
	assert.Contains(t, out, `equiplens_comparisons_total{status="ok"} 1`)
	assert.Contains(t, out, `equiplens_risk_levels_total{level="normal",metric="flowrate"} 1`)
	assert.True(t, strings.Contains(out, `route="/api/upload/"`))
}

func TestUploadAnnotates(t *testing.T) {
	f := newFixture(t)
	f.srv.opts.Annotate = func(context.Context, equipment.Summary) string { return "• looks fine" }
	f.srv.router = f.srv.routes()

	rec := f.upload(t, "a.csv", baselineCSV)
	require.Equal(t, http.StatusCreated, rec.Code)
	sum := decode(t, rec)["summary"].(map[string]any)
	assert.Equal(t, "• looks fine", sum["ai_insights"])
}

func TestRunShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
