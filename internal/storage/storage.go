// Package storage archives evaluation reports in SQLite or PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/transcendence/internal/models"
)

// ErrNotFound is returned when a report id does not exist.
var ErrNotFound = errors.New("report not found")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage is an append-only archive of reports. Stored ratings are history;
// nothing reads them back as priors.
type Storage struct {
	db     *sql.DB
	driver string
}

// New opens the archive. For sqlite an empty dsn defaults to
// $TMPDIR/transcendence/data.db and ":memory:" is accepted.
func New(driver, dsn string) (*Storage, error) {
	var db *sql.DB
	var err error
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		db, err = openSQLite(dsn)
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		if err == nil {
			err = db.Ping()
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}

	s := &Storage{db: db, driver: driver}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = filepath.Join(os.TempDir(), "transcendence", "data.db")
	}
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; also keeps :memory: on one connection
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return db, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return db, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id          TEXT PRIMARY KEY,
			project     TEXT NOT NULL,
			created_at  BIGINT NOT NULL,
			table_count INTEGER NOT NULL,
			plots       TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS ratings (
			report_id    TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
			ord          INTEGER NOT NULL,
			table_name   TEXT NOT NULL,
			model        TEXT NOT NULL,
			temperature  DOUBLE PRECISION NOT NULL,
			engine_level INTEGER NOT NULL,
			subject_elo  DOUBLE PRECISION NOT NULL,
			engine_elo   DOUBLE PRECISION NOT NULL,
			rating       DOUBLE PRECISION NOT NULL,
			deviation    DOUBLE PRECISION NOT NULL,
			volatility   DOUBLE PRECISION NOT NULL,
			wins         INTEGER NOT NULL,
			draws        INTEGER NOT NULL,
			losses       INTEGER NOT NULL,
			mean_plies   DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (report_id, ord)
		)`,
		`CREATE TABLE IF NOT EXISTS win_rates (
			report_id    TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
			ord          INTEGER NOT NULL,
			model        TEXT NOT NULL,
			temperature  DOUBLE PRECISION NOT NULL,
			engine_level INTEGER NOT NULL,
			samples      INTEGER NOT NULL,
			mean         DOUBLE PRECISION NOT NULL,
			std_dev      DOUBLE PRECISION NOT NULL,
			wins         INTEGER NOT NULL,
			draws        INTEGER NOT NULL,
			losses       INTEGER NOT NULL,
			ci_low       DOUBLE PRECISION NOT NULL,
			ci_high      DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (report_id, ord)
		)`,
		`CREATE TABLE IF NOT EXISTS heatmap (
			report_id   TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
			ord         INTEGER NOT NULL,
			subject_elo DOUBLE PRECISION NOT NULL,
			engine_elo  DOUBLE PRECISION NOT NULL,
			rating      DOUBLE PRECISION NOT NULL,
			deviation   DOUBLE PRECISION NOT NULL,
			samples     INTEGER NOT NULL,
			PRIMARY KEY (report_id, ord)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveReport writes r and all its rows in one transaction. Report ids are
// never overwritten.
func (s *Storage) SaveReport(ctx context.Context, r *models.Report) error {
	if r.ID == "" {
		return fmt.Errorf("report has no id")
	}
	plots, err := json.Marshal(nonNil(r.Plots))
	if err != nil {
		return fmt.Errorf("failed to marshal plots: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO reports (id, project, created_at, table_count, plots)
		VALUES (?,?,?,?,?)`),
		r.ID, r.Project, r.CreatedAt.UnixNano(), r.Tables, string(plots),
	); err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	for i, x := range r.Ratings {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO ratings
				(report_id, ord, table_name, model, temperature, engine_level, subject_elo,
				 engine_elo, rating, deviation, volatility, wins, draws, losses, mean_plies)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
			r.ID, i, x.Table, x.Model, x.Temperature, x.EngineLevel, x.SubjectElo,
			x.EngineElo, x.Rating, x.Deviation, x.Volatility, x.Wins, x.Draws, x.Losses, x.MeanPlies,
		); err != nil {
			return fmt.Errorf("failed to insert rating %d: %w", i, err)
		}
	}

	for i, x := range r.WinRates {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO win_rates
				(report_id, ord, model, temperature, engine_level, samples, mean, std_dev,
				 wins, draws, losses, ci_low, ci_high)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`),
			r.ID, i, x.Model, x.Temperature, x.EngineLevel, x.Samples, x.Mean, x.StdDev,
			x.Wins, x.Draws, x.Losses, x.CILow, x.CIHigh,
		); err != nil {
			return fmt.Errorf("failed to insert win rate %d: %w", i, err)
		}
	}

	for i, x := range r.Heatmap {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO heatmap
				(report_id, ord, subject_elo, engine_elo, rating, deviation, samples)
			VALUES (?,?,?,?,?,?,?)`),
			r.ID, i, x.SubjectElo, x.EngineElo, x.Rating, x.Deviation, x.Samples,
		); err != nil {
			return fmt.Errorf("failed to insert heatmap cell %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetReport loads a report with all its rows.
func (s *Storage) GetReport(ctx context.Context, id string) (*models.Report, error) {
	r, err := s.header(ctx, s.q(`SELECT `+reportCols+` FROM reports WHERE id = ?`), id)
	if err != nil {
		return nil, err
	}
	if err := s.fill(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// LatestReport loads the most recently created report.
func (s *Storage) LatestReport(ctx context.Context) (*models.Report, error) {
	r, err := s.header(ctx, `SELECT `+reportCols+` FROM reports ORDER BY created_at DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if err := s.fill(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListReports returns report headers, newest first, without their rows.
func (s *Storage) ListReports(ctx context.Context, limit int) ([]*models.Report, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+reportCols+` FROM reports ORDER BY created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := []*models.Report{}
	for rows.Next() {
		r, err := scanReport(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (s *Storage) GetRatings(ctx context.Context, reportID string) ([]models.RatingResult, error) {
	if err := s.exists(ctx, reportID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT table_name, model, temperature, engine_level, subject_elo, engine_elo,
		       rating, deviation, volatility, wins, draws, losses, mean_plies
		FROM ratings WHERE report_id = ? ORDER BY ord`), reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings: %w", err)
	}
	defer rows.Close()

	out := []models.RatingResult{}
	for rows.Next() {
		var x models.RatingResult
		if err := rows.Scan(
			&x.Table, &x.Model, &x.Temperature, &x.EngineLevel, &x.SubjectElo, &x.EngineElo,
			&x.Rating, &x.Deviation, &x.Volatility, &x.Wins, &x.Draws, &x.Losses, &x.MeanPlies,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

func (s *Storage) GetWinRates(ctx context.Context, reportID string) ([]models.WinRateSummary, error) {
	if err := s.exists(ctx, reportID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT model, temperature, engine_level, samples, mean, std_dev,
		       wins, draws, losses, ci_low, ci_high
		FROM win_rates WHERE report_id = ? ORDER BY ord`), reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query win rates: %w", err)
	}
	defer rows.Close()

	out := []models.WinRateSummary{}
	for rows.Next() {
		var x models.WinRateSummary
		if err := rows.Scan(
			&x.Model, &x.Temperature, &x.EngineLevel, &x.Samples, &x.Mean, &x.StdDev,
			&x.Wins, &x.Draws, &x.Losses, &x.CILow, &x.CIHigh,
		); err != nil {
			return nil, fmt.Errorf("failed to scan win rate: %w", err)
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

func (s *Storage) GetHeatmap(ctx context.Context, reportID string) ([]models.HeatmapCell, error) {
	if err := s.exists(ctx, reportID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT subject_elo, engine_elo, rating, deviation, samples
		FROM heatmap WHERE report_id = ? ORDER BY ord`), reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query heatmap: %w", err)
	}
	defer rows.Close()

	out := []models.HeatmapCell{}
	for rows.Next() {
		var x models.HeatmapCell
		if err := rows.Scan(&x.SubjectElo, &x.EngineElo, &x.Rating, &x.Deviation, &x.Samples); err != nil {
			return nil, fmt.Errorf("failed to scan heatmap cell: %w", err)
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

// RotateReports keeps at most max newest reports by created_at. Cascading
// deletes remove their rows.
func (s *Storage) RotateReports(ctx context.Context, max int) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM reports WHERE id NOT IN (
			SELECT id FROM reports ORDER BY created_at DESC LIMIT ?
		)`), max)
	if err != nil {
		return 0, fmt.Errorf("failed to rotate reports: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Storage) header(ctx context.Context, query string, args ...any) (*models.Report, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx, query, args...).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return r, nil
}

func (s *Storage) fill(ctx context.Context, r *models.Report) error {
	var err error
	if r.Ratings, err = s.GetRatings(ctx, r.ID); err != nil {
		return err
	}
	if r.WinRates, err = s.GetWinRates(ctx, r.ID); err != nil {
		return err
	}
	if r.Heatmap, err = s.GetHeatmap(ctx, r.ID); err != nil {
		return err
	}
	return nil
}

func (s *Storage) exists(ctx context.Context, id string) error {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM reports WHERE id = ?`), id).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to look up report: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// q rewrites ? placeholders to $n for PostgreSQL.
func (s *Storage) q(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

const reportCols = `id, project, created_at, table_count, plots`

func scanReport(scan func(...any) error) (*models.Report, error) {
	var r models.Report
	var createdAtNano int64
	var plots string
	if err := scan(&r.ID, &r.Project, &createdAtNano, &r.Tables, &plots); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, createdAtNano).UTC()
	if err := json.Unmarshal([]byte(plots), &r.Plots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plots: %w", err)
	}
	return &r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
