package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/g960059/a2ui/internal/model"
)

var (
	ErrDuplicate  = errors.New("duplicate")
	ErrNotFound   = errors.New("not found")
	ErrOutOfOrder = errors.New("out of order")
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) InsertJournal(ctx context.Context, e model.JournalEntry) error {
	if e.AppliedAt.IsZero() {
		e.AppliedAt = time.Now().UTC()
	}
	if strings.TrimSpace(e.EntryID) == "" {
		return fmt.Errorf("entry_id is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO message_journal(entry_id, surface_id, message_type, seq, payload, outcome, applied_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, e.EntryID, e.SurfaceID, e.MessageType, nullableI64(e.Seq), nullIfEmpty(e.Payload), e.Outcome, ts(e.AppliedAt))
	if err != nil {
		if isUniqueErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// ListJournal returns the newest entries first. An empty surfaceID lists
// entries of every surface.
func (s *Store) ListJournal(ctx context.Context, surfaceID string, limit int) ([]model.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT entry_id, surface_id, message_type, seq, COALESCE(payload, ''), outcome, applied_at
FROM message_journal
`
	args := []any{}
	if surfaceID != "" {
		query += "WHERE surface_id = ?\n"
		args = append(args, surfaceID)
	}
	query += "ORDER BY applied_at DESC, entry_id DESC\nLIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()
	out := []model.JournalEntry{}
	for rows.Next() {
		var (
			e          model.JournalEntry
			seq        sql.NullInt64
			appliedStr string
		)
		if err := rows.Scan(&e.EntryID, &e.SurfaceID, &e.MessageType, &seq, &e.Payload, &e.Outcome, &appliedStr); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if seq.Valid {
			v := seq.Int64
			e.Seq = &v
		}
		e.AppliedAt, err = parseTS(appliedStr)
		if err != nil {
			return nil, fmt.Errorf("parse applied_at: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

// PurgeRetention clears payloads older than payloadCutoff and deletes entries
// older than metadataCutoff.
func (s *Store) PurgeRetention(ctx context.Context, payloadCutoff, metadataCutoff time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin retention tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE message_journal SET payload = NULL WHERE applied_at < ?`, ts(payloadCutoff)); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("clear payloads: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM message_journal WHERE applied_at < ?`, ts(metadataCutoff)); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete old journal entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit retention tx: %w", err)
	}
	return nil
}

// AdvanceCursor records seq as the latest sequence number applied to a
// surface. A seq at or below the stored one fails with ErrOutOfOrder unless
// reset is set.
func (s *Store) AdvanceCursor(ctx context.Context, surfaceID string, seq int64, reset bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cursor tx: %w", err)
	}
	var last int64
	err = tx.QueryRowContext(ctx, `SELECT last_seq FROM surface_cursors WHERE surface_id = ?`, surfaceID).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("read cursor: %w", err)
	case !reset && seq <= last:
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("%w: surface %s seq %d <= %d", ErrOutOfOrder, surfaceID, seq, last)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO surface_cursors(surface_id, last_seq, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(surface_id) DO UPDATE SET
	last_seq = excluded.last_seq,
	updated_at = excluded.updated_at
`, surfaceID, seq, ts(time.Now())); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("upsert cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cursor tx: %w", err)
	}
	return nil
}

func (s *Store) GetCursor(ctx context.Context, surfaceID string) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `SELECT last_seq FROM surface_cursors WHERE surface_id = ?`, surfaceID).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("scan cursor: %w", err)
	}
	return last, nil
}

func (s *Store) DeleteCursor(ctx context.Context, surfaceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM surface_cursors WHERE surface_id = ?`, surfaceID); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return nil
}

func (s *Store) UpsertWidget(ctx context.Context, w model.WidgetRecord) error {
	widgetID := strings.TrimSpace(w.WidgetID)
	version := strings.TrimSpace(w.Version)
	if widgetID == "" {
		return fmt.Errorf("widget_id is required")
	}
	if version == "" {
		return fmt.Errorf("version is required")
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO widgets(widget_id, version, name, body, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(widget_id, version) DO UPDATE SET
	name = excluded.name,
	body = excluded.body,
	updated_at = excluded.updated_at
`, widgetID, version, w.Name, w.Body, ts(w.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert widget: %w", err)
	}
	return nil
}

func (s *Store) GetWidget(ctx context.Context, widgetID, version string) (model.WidgetRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT widget_id, version, name, body, updated_at
FROM widgets
WHERE widget_id = ? AND version = ?
`, widgetID, version)
	w, err := scanWidget(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WidgetRecord{}, ErrNotFound
		}
		return model.WidgetRecord{}, err
	}
	return w, nil
}

// ListWidgetVersions returns every stored version of a widget in insertion
// order. Version precedence is left to the caller.
func (s *Store) ListWidgetVersions(ctx context.Context, widgetID string) ([]model.WidgetRecord, error) {
	return s.listWidgets(ctx, `
SELECT widget_id, version, name, body, updated_at
FROM widgets
WHERE widget_id = ?
ORDER BY rowid ASC
`, widgetID)
}

func (s *Store) ListWidgets(ctx context.Context) ([]model.WidgetRecord, error) {
	return s.listWidgets(ctx, `
SELECT widget_id, version, name, body, updated_at
FROM widgets
ORDER BY widget_id ASC, rowid ASC
`)
}

func (s *Store) listWidgets(ctx context.Context, query string, args ...any) ([]model.WidgetRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list widgets: %w", err)
	}
	defer rows.Close()
	out := []model.WidgetRecord{}
	for rows.Next() {
		w, err := scanWidget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate widgets: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteWidget(ctx context.Context, widgetID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM widgets WHERE widget_id = ?`, widgetID)
	if err != nil {
		return fmt.Errorf("delete widget: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete widget rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWidget(scanner interface{ Scan(dest ...any) error }) (model.WidgetRecord, error) {
	var (
		w          model.WidgetRecord
		updatedStr string
	)
	if err := scanner.Scan(&w.WidgetID, &w.Version, &w.Name, &w.Body, &updatedStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WidgetRecord{}, err
		}
		return model.WidgetRecord{}, fmt.Errorf("scan widget: %w", err)
	}
	var err error
	w.UpdatedAt, err = parseTS(updatedStr)
	if err != nil {
		return model.WidgetRecord{}, fmt.Errorf("parse widget updated_at: %w", err)
	}
	return w, nil
}

func (s *Store) UpsertInstance(ctx context.Context, in model.InstanceRecord) error {
	if strings.TrimSpace(in.InstanceID) == "" {
		return fmt.Errorf("instance_id is required")
	}
	if strings.TrimSpace(in.WidgetID) == "" {
		return fmt.Errorf("widget_id is required")
	}
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO widget_instances(instance_id, widget_id, version_constraint, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(instance_id) DO UPDATE SET
	widget_id = excluded.widget_id,
	version_constraint = excluded.version_constraint,
	updated_at = excluded.updated_at
`, in.InstanceID, in.WidgetID, in.Constraint, ts(in.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert widget instance: %w", err)
	}
	return nil
}

func (s *Store) GetInstance(ctx context.Context, instanceID string) (model.InstanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT instance_id, widget_id, version_constraint, updated_at
FROM widget_instances
WHERE instance_id = ?
`, instanceID)
	var (
		in         model.InstanceRecord
		updatedStr string
	)
	if err := row.Scan(&in.InstanceID, &in.WidgetID, &in.Constraint, &updatedStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.InstanceRecord{}, ErrNotFound
		}
		return model.InstanceRecord{}, fmt.Errorf("scan widget instance: %w", err)
	}
	var err error
	in.UpdatedAt, err = parseTS(updatedStr)
	if err != nil {
		return model.InstanceRecord{}, fmt.Errorf("parse instance updated_at: %w", err)
	}
	return in, nil
}

func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table))
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows %s: %w", table, err)
	}
	return count, nil
}

func nullableI64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// tsLayout keeps a fixed-width fraction so stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg,
		"UNIQUE constraint failed",
		"constraint failed: UNIQUE",
	)
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
