package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sizeseg/internal/core"
	ports "sizeseg/internal/sheets"

	_ "modernc.org/sqlite"
)

// savedAtLayout has a fixed width so that text ordering matches time ordering.
const savedAtLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository stores committed sheet snapshots.
type SQLiteRepository struct {
	db *sql.DB
}

var (
	_ ports.SnapshotWriter = (*SQLiteRepository)(nil)
	_ ports.SnapshotReader = (*SQLiteRepository)(nil)
	_ ports.SnapshotLister = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Commit implements sheets.SnapshotWriter
func (r *SQLiteRepository) Commit(ctx context.Context, s core.Sheet) (string, error) {
	if len(s.Rows) == 0 {
		return "", fmt.Errorf("commit: %w", core.ErrInvariantViolation)
	}
	id := uuid.NewString()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, version, columns, row_count, grand_total, rule_active, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, int64(s.Version), strings.Join(s.Columns, ","), len(s.Rows),
		core.GrandTotal(s.Rows, s.Columns).String(), s.RuleActive(), time.Now().UTC().Format(savedAtLayout))
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}

	for i, row := range s.Rows {
		values, err := json.Marshal(row.Values)
		if err != nil {
			return "", fmt.Errorf("encode row %s: %w", row.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO snapshot_rows (snapshot_id, position, row_id, values_json, calculated)
			 VALUES (?, ?, ?, ?, ?)`,
			id, i, row.ID, string(values), core.RowSum(row, s.Columns).String())
		if err != nil {
			return "", fmt.Errorf("insert row %s: %w", row.ID, err)
		}
	}

	for i, g := range s.Groups {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO snapshot_groups (snapshot_id, position, group_id, name, enabled, columns)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, g.ID, g.Name, g.Enabled, strings.Join(g.Ordered(s.Columns), ","))
		if err != nil {
			return "", fmt.Errorf("insert group %s: %w", g.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}

	slog.InfoContext(ctx, "Snapshot saved to SQLite",
		"id", id,
		"version", s.Version,
		"rows", len(s.Rows),
		"groups", len(s.Groups))

	return id, nil
}

// Snapshot implements sheets.SnapshotReader
func (r *SQLiteRepository) Snapshot(ctx context.Context, ref string) (core.Sheet, error) {
	var (
		sh      core.Sheet
		version int64
		columns string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT version, columns FROM snapshots WHERE id = ?`, ref).Scan(&version, &columns)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Sheet{}, ports.ErrSnapshotNotFound
	}
	if err != nil {
		return core.Sheet{}, fmt.Errorf("get snapshot %s: %w", ref, err)
	}
	sh.Version = uint64(version)
	sh.Columns = splitList(columns)

	if sh.Rows, err = r.loadRows(ctx, ref, sh.Columns); err != nil {
		return core.Sheet{}, err
	}
	if sh.Groups, err = r.loadGroups(ctx, ref); err != nil {
		return core.Sheet{}, err
	}
	return sh, nil
}

func (r *SQLiteRepository) loadRows(ctx context.Context, ref string, columns []string) ([]core.Row, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT row_id, values_json, calculated FROM snapshot_rows
		 WHERE snapshot_id = ? ORDER BY position`, ref)
	if err != nil {
		return nil, fmt.Errorf("get snapshot rows: %w", err)
	}
	defer rows.Close()

	var out []core.Row
	for rows.Next() {
		var id, valuesJSON, calculated string
		if err := rows.Scan(&id, &valuesJSON, &calculated); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		row := core.NewRow(id, columns)
		if err := json.Unmarshal([]byte(valuesJSON), &row.Values); err != nil {
			return nil, fmt.Errorf("decode row %s: %w", id, err)
		}
		if row.Calculated, err = decimal.NewFromString(calculated); err != nil {
			row.Calculated = core.RowSum(row, columns)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) loadGroups(ctx context.Context, ref string) ([]core.ColumnGroup, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT group_id, name, enabled, columns FROM snapshot_groups
		 WHERE snapshot_id = ? ORDER BY position`, ref)
	if err != nil {
		return nil, fmt.Errorf("get snapshot groups: %w", err)
	}
	defer rows.Close()

	var out []core.ColumnGroup
	for rows.Next() {
		var (
			id, name, columns string
			enabled           bool
		)
		if err := rows.Scan(&id, &name, &enabled, &columns); err != nil {
			return nil, fmt.Errorf("scan snapshot group: %w", err)
		}
		g := core.NewColumnGroup(id, name, splitList(columns)...)
		g.Enabled = enabled
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListSnapshots implements sheets.SnapshotLister
func (r *SQLiteRepository) ListSnapshots(ctx context.Context, limit int) ([]ports.SnapshotInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, version, row_count, grand_total, saved_at FROM snapshots
		 ORDER BY saved_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []ports.SnapshotInfo
	for rows.Next() {
		var (
			info    ports.SnapshotInfo
			version int64
			savedAt string
		)
		if err := rows.Scan(&info.Ref, &version, &info.RowCount, &info.GrandTotal, &savedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		info.Version = uint64(version)
		if ts, err := time.Parse(savedAtLayout, savedAt); err == nil {
			info.SavedAt = ts.Format(time.RFC3339)
		} else {
			info.SavedAt = savedAt
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}
