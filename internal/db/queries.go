package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
)

// GetValues returns the stored JSON value for each requested key that exists.
// An empty keys slice returns every stored key. Missing keys are simply
// absent from the result; absence is not an error.
func GetValues(ctx context.Context, db *sql.DB, keys []string) (map[string]json.RawMessage, error) {
	query := `SELECT key, value_json FROM settings`
	args := make([]any, 0, len(keys))
	if len(keys) > 0 {
		placeholders := make([]string, len(keys))
		for i, k := range keys {
			placeholders[i] = "?"
			args = append(args, k)
		}
		query += ` WHERE key IN (` + strings.Join(placeholders, ",") + `)`
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	values := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.NewInternal(err)
		}
		values[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return values, nil
}

// PutValues upserts every key in values in a single transaction.
// Keys not present in values are untouched.
func PutValues(ctx context.Context, db *sql.DB, values map[string]json.RawMessage) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO settings (key, value_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at
	`)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for key, value := range values {
		if _, err := stmt.ExecContext(ctx, key, string(value), now); err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteAll removes every stored setting. Used only by explicit reset.
func DeleteAll(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// CountKeys returns the number of stored settings keys.
func CountKeys(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings`).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// DataVersion returns PRAGMA data_version for conn. The value changes
// whenever another connection commits, so conn must be reserved for
// watching and never used for writes.
func DataVersion(ctx context.Context, conn *sql.Conn) (int64, error) {
	var v int64
	if err := conn.QueryRowContext(ctx, "PRAGMA data_version;").Scan(&v); err != nil {
		return 0, errors.NewInternal(err)
	}
	return v, nil
}
