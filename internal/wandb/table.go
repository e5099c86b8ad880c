// Package wandb loads logged game tables exported from Weights & Biases runs.
//
// Tables use the W&B table JSON layout:
//
//	{"_type": "table", "columns": ["game_title", ...], "data": [[...], ...]}
package wandb

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rewired-gh/transcendence/internal/models"
)

// TableSuffix is the file suffix of exported tables.
const TableSuffix = ".table.json"

// rawTable mirrors the W&B table JSON file.
type rawTable struct {
	Type    string          `json:"_type"`
	Columns []string        `json:"columns"`
	Data    [][]interface{} `json:"data"`
}

// DecodeTable parses one table. Unknown columns are ignored.
func DecodeTable(r io.Reader, name, model string) (*models.Table, error) {
	var raw rawTable
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode table %s: %w", name, err)
	}
	if len(raw.Columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", name)
	}

	index := make(map[string]int, len(raw.Columns))
	for i, c := range raw.Columns {
		index[strings.ToLower(strings.TrimSpace(c))] = i
	}
	for _, required := range []string{"player_one", "player_two"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("table %s is missing column %q", name, required)
		}
	}

	table := &models.Table{Name: name, Model: model, Games: make([]models.Game, 0, len(raw.Data))}
	for i, row := range raw.Data {
		if len(row) != len(raw.Columns) {
			return nil, fmt.Errorf("table %s row %d has %d cells, want %d", name, i, len(row), len(raw.Columns))
		}
		cell := func(col string) interface{} {
			if j, ok := index[col]; ok {
				return row[j]
			}
			return nil
		}

		g := models.Game{
			Title:          asString(cell("game_title")),
			PlayerOne:      asString(cell("player_one")),
			PlayerTwo:      asString(cell("player_two")),
			PlayerOneScore: asString(cell("player_one_score")),
			PlayerTwoScore: asString(cell("player_two_score")),
			Transcript:     asString(firstOf(cell("transcript"), cell("pgn"))),
		}
		var err error
		if g.Temperature, err = asFloat(cell("temperature")); err != nil {
			return nil, fmt.Errorf("table %s row %d temperature: %w", name, i, err)
		}
		if g.SubjectElo, err = asFloat(cell("nanogpt_elo")); err != nil {
			return nil, fmt.Errorf("table %s row %d nanogpt_elo: %w", name, i, err)
		}
		if g.EngineElo, err = asFloat(cell("stockfish_elo")); err != nil {
			return nil, fmt.Errorf("table %s row %d stockfish_elo: %w", name, i, err)
		}
		table.Games = append(table.Games, g)
	}

	return table, nil
}

// LoadFile reads one exported table from disk.
func LoadFile(path, model string) (*models.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer f.Close()
	return DecodeTable(f, TableName(path), model)
}

// LoadDir reads every exported table below dir in lexical order. Parquet
// shards and "#fx+" derived tables are skipped.
func LoadDir(dir, model string) ([]*models.Table, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), TableSuffix) || strings.Contains(d.Name(), "#fx+") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(paths)

	tables := make([]*models.Table, 0, len(paths))
	for _, p := range paths {
		t, err := LoadFile(p, model)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// TableName derives a table name from a file path or URL.
func TableName(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.Index(base, "?"); i > 0 {
		base = base[:i]
	}
	return strings.TrimSuffix(base, TableSuffix)
}

func firstOf(vals ...interface{}) interface{} {
	for _, v := range vals {
		if v != nil && asString(v) != "" {
			return v
		}
	}
	return nil
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// asFloat reads a numeric cell; empty cells read as 0.
func asFloat(v interface{}) (float64, error) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		var err error
		if f, err = x.Float64(); err != nil {
			return 0, err
		}
	case float64:
		f = x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, nil
		}
		var err error
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("unexpected cell type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}
