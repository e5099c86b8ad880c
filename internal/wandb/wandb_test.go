package wandb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const sampleTable = `{
  "_type": "table",
  "columns": ["game_title", "player_one", "player_two", "player_one_score", "player_two_score", "temperature", "nanogpt_elo", "stockfish_elo", "transcript"],
  "data": [
    ["NanoGPT vs Stockfish 1", "NanoGPT", "Stockfish 1", "1", "0", 0.3, 1500, "1467", ";1.e4 e5"],
    ["Stockfish 1 vs NanoGPT", "Stockfish 1", "NanoGPT", "1", "0", "0.3", null, 1467, ""],
    ["NanoGPT vs Stockfish 1", "NanoGPT", "Stockfish 1", 0.5, 0.5, 0.3, 1500, 1467, ""]
  ]
}`

func TestDecodeTable(t *testing.T) {
	table, err := DecodeTable(strings.NewReader(sampleTable), "eval_0001", "50M")
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}
	if table.Name != "eval_0001" || table.Model != "50M" {
		t.Errorf("unexpected name/model: %q %q", table.Name, table.Model)
	}
	if len(table.Games) != 3 {
		t.Fatalf("got %d games, want 3", len(table.Games))
	}

	g := table.Games[0]
	if g.PlayerTwo != "Stockfish 1" || g.PlayerOneScore != "1" {
		t.Errorf("unexpected first row: %+v", g)
	}
	if g.Temperature != 0.3 || g.SubjectElo != 1500 || g.EngineElo != 1467 {
		t.Errorf("numeric cells not parsed: %+v", g)
	}
	if g.Transcript != ";1.e4 e5" {
		t.Errorf("transcript = %q", g.Transcript)
	}
	if table.Games[1].Temperature != 0.3 || table.Games[1].SubjectElo != 0 {
		t.Errorf("string/null cells not parsed: %+v", table.Games[1])
	}
	if table.Games[2].PlayerOneScore != "0.5" {
		t.Errorf("numeric score = %q, want 0.5", table.Games[2].PlayerOneScore)
	}
	if err := table.Validate(); err != nil {
		t.Errorf("decoded table invalid: %v", err)
	}
}

func TestDecodeTable_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"no columns", `{"columns": [], "data": []}`},
		{"missing player column", `{"columns": ["player_one"], "data": []}`},
		{"short row", `{"columns": ["player_one", "player_two"], "data": [["NanoGPT"]]}`},
		{"bad temperature", `{"columns": ["player_one", "player_two", "temperature"], "data": [["NanoGPT", "Stockfish 1", "hot"]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeTable(strings.NewReader(tt.body), "t", "m"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b_eval.table.json":        sampleTable,
		"a_eval.table.json":        sampleTable,
		"nested/c_eval.table.json": sampleTable,
		"derived#fx+1.table.json":  "not read",
		"0000.parquet":             "not read",
		"notes.txt":                "not read",
	}
	for name, body := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tables, err := LoadDir(dir, "350M")
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(tables) != 3 {
		t.Fatalf("got %d tables, want 3", len(tables))
	}
	want := []string{"a_eval", "b_eval", "c_eval"}
	for i, name := range want {
		if tables[i].Name != name {
			t.Errorf("tables[%d] = %s, want %s", i, tables[i].Name, name)
		}
		if tables[i].Model != "350M" {
			t.Errorf("tables[%d].Model = %s", i, tables[i].Model)
		}
	}
}

func TestTableName(t *testing.T) {
	tests := map[string]string{
		"/tmp/x/eval_1.table.json":                      "eval_1",
		"https://h/files/e/p/run/eval_2.table.json?x=1": "eval_2",
		"run123/media/table/eval_3.table.json":          "eval_3",
		"plain":                                         "plain",
	}
	for in, want := range tests {
		if got := TableName(in); got != want {
			t.Errorf("TableName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetchTable_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "api" || pass != "key" {
			t.Errorf("missing basic auth")
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.URL.Path != "/files/project-eval/eval/run1/media/eval_9.table.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(sampleTable))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, ClientConfig{
		APIKey:         "key",
		Entity:         "project-eval",
		Project:        "eval",
		MaxRetries:     3,
		RetryDelayBase: time.Millisecond,
	})
	table, err := c.FetchTable(context.Background(), "run1/media/eval_9.table.json", "770M")
	if err != nil {
		t.Fatalf("FetchTable: %v", err)
	}
	if table.Name != "eval_9" || len(table.Games) != 3 {
		t.Errorf("unexpected table %s with %d games", table.Name, len(table.Games))
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestFetchTable_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, ClientConfig{RetryDelayBase: time.Millisecond})
	if _, err := c.FetchTable(context.Background(), srv.URL+"/missing.table.json", "m"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestFetchTable_BadRef(t *testing.T) {
	c := NewClient("https://api.wandb.ai", time.Second, ClientConfig{})
	if _, err := c.FetchTable(context.Background(), "run1/eval.table.json", "m"); err == nil {
		t.Error("expected error without entity/project")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "one.table.json")
	if err := os.WriteFile(file, []byte(sampleTable), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewClient("https://api.wandb.ai", time.Second, ClientConfig{})
	tables, err := c.Load(context.Background(), []Source{
		{Model: "50M", Dirs: []string{dir}},
		{Model: "770M", Files: []string{file}},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("got %d tables, want 2", len(tables))
	}
	if tables[0].Model != "50M" || tables[1].Model != "770M" {
		t.Errorf("models out of order: %s, %s", tables[0].Model, tables[1].Model)
	}
}
