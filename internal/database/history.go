package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/proxyprobe/internal/model"
)

// FileName is the name of the database file inside the data directory.
const FileName = "proxyprobe.db"

// timeLayout stores timestamps as fixed-width UTC text so that they sort
// chronologically as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// HistoryDB provides SQLite-based storage for check reports and proxy performance.
type HistoryDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures HistoryDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a HistoryDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*HistoryDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file; mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	hdb := &HistoryDB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to enable WAL mode: %w", err), db.Close())
		}
	}

	if err := hdb.createTables(); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create tables: %w", err), db.Close())
	}

	return hdb, nil
}

// Path returns the database file path.
func (h *HistoryDB) Path() string {
	return h.dbPath
}

// Close checkpoints the write-ahead log and closes the database connection.
func (h *HistoryDB) Close() error {
	var err error
	if _, cerr := h.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)"); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to checkpoint: %w", cerr))
	}
	return multierr.Append(err, h.db.Close())
}

func (h *HistoryDB) createTables() error {
	schema := `
	-- Every aggregate report, with the summary used by listings
	CREATE TABLE IF NOT EXISTS check_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proxy TEXT NOT NULL,
		checked_at TEXT NOT NULL,
		success INTEGER NOT NULL,
		anonymity TEXT,
		failed_probes TEXT,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_proxy ON check_reports(proxy);
	CREATE INDEX IF NOT EXISTS idx_reports_checked_at ON check_reports(checked_at);

	-- Running counters per proxy
	CREATE TABLE IF NOT EXISTS proxy_performance (
		proxy TEXT PRIMARY KEY,
		check_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		last_checked TEXT NOT NULL
	);
	`

	_, err := h.db.ExecContext(context.Background(), schema)
	return err
}

// ReportRecord is a stored check report.
type ReportRecord struct {
	// ID is the unique identifier of the report in the database.
	ID int64 `json:"id"`

	// Proxy is the checked proxy in host:port form.
	Proxy string `json:"proxy"`

	// CheckedAt is when the check started.
	CheckedAt time.Time `json:"checked_at"`

	// Success is true when at least one probe returned data.
	Success bool `json:"success"`

	// Anonymity is the anonymity verdict, empty when the probe did not run or failed.
	Anonymity string `json:"anonymity,omitempty"`

	// FailedProbes lists the probes that produced an error.
	FailedProbes []string `json:"failed_probes"`

	// Report is the full report as JSON.
	Report json.RawMessage `json:"report"`
}

// SaveReport stores a report and updates the proxy's performance counters
// in one transaction.
func (h *HistoryDB) SaveReport(ctx context.Context, report *model.AggregateReport) (err error) {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}

	checkedAt := report.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now()
	}
	ts := formatTimestamp(checkedAt)

	success := 0
	if report.Succeeded() {
		success = 1
	}
	anonymity := ""
	if a := report.Anonymity(); a != nil {
		anonymity = a.Anonymity.String()
	}
	failed := make([]string, 0, len(report.Errors))
	for _, perr := range report.Errors {
		failed = append(failed, string(perr.Probe))
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx, `
	INSERT INTO check_reports (proxy, checked_at, success, anonymity, failed_probes, report_json)
	VALUES (?, ?, ?, ?, ?, ?)
	`, report.Proxy, ts, success, anonymity, strings.Join(failed, ","), string(reportJSON)); err != nil {
		return fmt.Errorf("failed to save check report: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
	INSERT INTO proxy_performance (proxy, check_count, success_count, last_checked)
	VALUES (?, 1, ?, ?)
	ON CONFLICT(proxy) DO UPDATE SET
		check_count = check_count + 1,
		success_count = success_count + excluded.success_count,
		last_checked = MAX(last_checked, excluded.last_checked)
	`, report.Proxy, success, ts); err != nil {
		return fmt.Errorf("failed to update proxy performance: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetPerformance returns the performance of one proxy, or nil if it was never checked.
func (h *HistoryDB) GetPerformance(ctx context.Context, proxy string) (*model.ProxyPerformance, error) {
	var checks, successes int
	var last string
	err := h.db.QueryRowContext(ctx, `
	SELECT check_count, success_count, last_checked FROM proxy_performance
	WHERE proxy = ?
	`, proxy).Scan(&checks, &successes, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proxy performance: %w", err)
	}

	perf := model.NewProxyPerformance(proxy, checks, successes, parseTimestamp(last))
	return &perf, nil
}

// ListProxies returns the performance of every checked proxy, ordered by address.
func (h *HistoryDB) ListProxies(ctx context.Context) ([]model.ProxyPerformance, error) {
	rows, err := h.db.QueryContext(ctx, `
	SELECT proxy, check_count, success_count, last_checked FROM proxy_performance
	ORDER BY proxy
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list proxies: %w", err)
	}
	defer rows.Close()

	var proxies []model.ProxyPerformance
	for rows.Next() {
		var proxy, last string
		var checks, successes int
		if err := rows.Scan(&proxy, &checks, &successes, &last); err != nil {
			return nil, fmt.Errorf("failed to scan proxy: %w", err)
		}
		proxies = append(proxies, model.NewProxyPerformance(proxy, checks, successes, parseTimestamp(last)))
	}

	return proxies, rows.Err()
}

// GetHistory returns the most recent reports of a proxy, newest first.
// A limit of zero or less returns every report.
func (h *HistoryDB) GetHistory(ctx context.Context, proxy string, limit int) ([]ReportRecord, error) {
	query := `
	SELECT id, proxy, checked_at, success, anonymity, failed_probes, report_json
	FROM check_reports
	WHERE proxy = ?
	ORDER BY checked_at DESC, id DESC
	`
	args := []any{proxy}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get check history: %w", err)
	}
	defer rows.Close()

	var records []ReportRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetLatestReport returns the most recent report of a proxy, or nil if there is none.
func (h *HistoryDB) GetLatestReport(ctx context.Context, proxy string) (*ReportRecord, error) {
	records, err := h.GetHistory(ctx, proxy, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (ReportRecord, error) {
	var (
		rec       ReportRecord
		ts        string
		success   int
		anonymity sql.NullString
		failed    sql.NullString
		report    string
	)
	if err := s.Scan(&rec.ID, &rec.Proxy, &ts, &success, &anonymity, &failed, &report); err != nil {
		return ReportRecord{}, fmt.Errorf("failed to scan report: %w", err)
	}
	rec.CheckedAt = parseTimestamp(ts)
	rec.Success = success != 0
	rec.Anonymity = anonymity.String
	rec.FailedProbes = []string{}
	if failed.String != "" {
		rec.FailedProbes = strings.Split(failed.String, ",")
	}
	rec.Report = json.RawMessage(report)
	return rec, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// timestampFormats contains the timestamp formats that may be stored.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05", // SQLite default datetime format
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
