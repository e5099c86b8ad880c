package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/transcendence/internal/logger"
	"github.com/rewired-gh/transcendence/internal/models"
	"github.com/rewired-gh/transcendence/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.Storage) {
	t.Helper()
	st, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	plots := t.TempDir()
	if err := os.WriteFile(filepath.Join(plots, "ratings.png"), []byte("\x89PNG\r\n\x1a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(New(st, plots).Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func seed(t *testing.T, st *storage.Storage, id string, at time.Time) {
	t.Helper()
	r := &models.Report{
		ID:        id,
		Project:   "chess_eval",
		CreatedAt: at,
		Tables:    2,
		Ratings: []models.RatingResult{
			{Table: "a", Model: "50M", Rating: 1600, Deviation: 80},
			{Table: "b", Model: "350M", Rating: 1700, Deviation: 70},
		},
		WinRates: []models.WinRateSummary{{Model: "50M", Mean: 0.5}},
		Heatmap:  []models.HeatmapCell{{SubjectElo: 1500, EngineElo: 1320, Rating: 1650, Samples: 2}},
	}
	if err := st.SaveReport(context.Background(), r); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
}

func getJSON(t *testing.T, url string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if v == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	var body map[string]bool
	getJSON(t, ts.URL+"/healthz", http.StatusOK, &body)
	if !body["ok"] {
		t.Errorf("body = %v", body)
	}
}

func TestReports(t *testing.T) {
	ts, st := newTestServer(t)
	base := time.Now()
	seed(t, st, "old", base)
	seed(t, st, "new", base.Add(time.Minute))

	var list struct {
		Reports []models.Report `json:"reports"`
	}
	getJSON(t, ts.URL+"/api/reports?limit=1", http.StatusOK, &list)
	if len(list.Reports) != 1 || list.Reports[0].ID != "new" {
		t.Errorf("list = %+v", list.Reports)
	}

	var latest models.Report
	getJSON(t, ts.URL+"/api/reports/latest", http.StatusOK, &latest)
	if latest.ID != "new" || len(latest.Ratings) != 2 {
		t.Errorf("latest = %+v", latest)
	}

	var one models.Report
	getJSON(t, ts.URL+"/api/reports/old", http.StatusOK, &one)
	if one.ID != "old" || len(one.Heatmap) != 1 {
		t.Errorf("report = %+v", one)
	}
}

func TestReportRows(t *testing.T) {
	ts, st := newTestServer(t)
	seed(t, st, "r1", time.Now())

	var ratings struct {
		Rows []models.RatingResult `json:"rows"`
	}
	getJSON(t, ts.URL+"/api/reports/r1/ratings?model=350M", http.StatusOK, &ratings)
	if len(ratings.Rows) != 1 || ratings.Rows[0].Rating != 1700 {
		t.Errorf("filtered ratings = %+v", ratings.Rows)
	}

	var winRates struct {
		Rows []models.WinRateSummary `json:"rows"`
	}
	getJSON(t, ts.URL+"/api/reports/r1/win-rates", http.StatusOK, &winRates)
	if len(winRates.Rows) != 1 || winRates.Rows[0].Mean != 0.5 {
		t.Errorf("win rates = %+v", winRates.Rows)
	}

	var heatmap struct {
		Cells []models.HeatmapCell `json:"cells"`
	}
	getJSON(t, ts.URL+"/api/reports/r1/heatmap", http.StatusOK, &heatmap)
	if len(heatmap.Cells) != 1 || heatmap.Cells[0].Samples != 2 {
		t.Errorf("heatmap = %+v", heatmap.Cells)
	}
}

func TestNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	for _, path := range []string{
		"/api/reports/latest",
		"/api/reports/missing",
		"/api/reports/missing/ratings",
		"/api/reports/missing/win-rates",
		"/api/reports/missing/heatmap",
	} {
		var body map[string]string
		getJSON(t, ts.URL+path, http.StatusNotFound, &body)
		if body["error"] == "" {
			t.Errorf("%s: missing error message", path)
		}
	}
}

func TestListReports_BadLimit(t *testing.T) {
	ts, _ := newTestServer(t)
	getJSON(t, ts.URL+"/api/reports?limit=-3", http.StatusBadRequest, nil)
	getJSON(t, ts.URL+"/api/reports?limit=abc", http.StatusBadRequest, nil)
}

func TestPlots(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/plots/ratings.png")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
}

type failingStore struct{ Store }

func (failingStore) LatestReport(context.Context) (*models.Report, error) {
	return nil, errors.New("connection reset")
}

func (failingStore) Ping(context.Context) error { return errors.New("down") }

func TestStoreFailure(t *testing.T) {
	ts := httptest.NewServer(New(failingStore{}, "").Handler())
	defer ts.Close()
	getJSON(t, ts.URL+"/api/reports/latest", http.StatusInternalServerError, nil)
	getJSON(t, ts.URL+"/healthz", http.StatusServiceUnavailable, nil)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWriter(&buf, "debug", "json")
	t.Cleanup(func() { logger.InitWriter(io.Discard, "error", "json") })

	st, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer st.Close()

	rec := httptest.NewRecorder()
	New(st, "").Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v: %q", err, buf.String())
	}
	if id, _ := entry["request_id"].(string); id == "" {
		t.Errorf("missing request_id: %v", entry)
	}
	if msg, _ := entry["message"].(string); !strings.HasPrefix(msg, "GET /healthz -> 200") {
		t.Errorf("message = %q", msg)
	}
}
