package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"menurec/internal/database"
	"menurec/internal/models"
)

// SQLStore keeps cache rows in the recommendation_cache table of MySQL or SQLite
type SQLStore struct {
	db *database.DB
}

// NewSQLStore creates a store over an initialized database
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

const selectColumns = `user_id, mode, status, recommendations, error_message, prompt_hash, created_at, expires_at`

// upsertQuery returns the dialect's single-statement insert-or-overwrite
func (s *SQLStore) upsertQuery() string {
	insert := `INSERT INTO recommendation_cache
		(user_id, mode, status, recommendations, error_message, prompt_hash, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if s.db.Dialect == database.DialectMySQL {
		return insert + `
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			recommendations = VALUES(recommendations),
			error_message = VALUES(error_message),
			prompt_hash = VALUES(prompt_hash),
			created_at = VALUES(created_at),
			expires_at = VALUES(expires_at)`
	}

	return insert + `
		ON CONFLICT(user_id, mode) DO UPDATE SET
			status = excluded.status,
			recommendations = excluded.recommendations,
			error_message = excluded.error_message,
			prompt_hash = excluded.prompt_hash,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`
}

// Upsert writes the single row for the entry's key in one statement
func (s *SQLStore) Upsert(ctx context.Context, entry *models.CacheEntry) error {
	e, err := prepare(entry)
	if err != nil {
		return err
	}

	var payload sql.NullString
	if len(e.Payload) > 0 {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode recommendations: %w", err)
		}
		payload = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.upsertQuery(),
		e.UserID,
		string(e.Mode),
		string(e.Status),
		payload,
		nullString(e.ErrorMessage),
		nullString(e.PromptHash),
		e.CreatedAt,
		e.ExpiresAt,
	)
	if err != nil {
		return &models.StoreError{Op: "upsert", Err: err}
	}
	return nil
}

// Get returns the unexpired row for key
func (s *SQLStore) Get(ctx context.Context, key models.CacheKey, now time.Time) (*models.CacheEntry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM recommendation_cache
		WHERE user_id = ? AND mode = ? AND expires_at > ?`,
		key.UserID, string(key.Mode), normalizeTime(now),
	)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &models.StoreError{Op: "get", Err: err}
	}
	return entry, nil
}

// Inspect lists rows for a user, or all rows when userID is empty, including expired ones
func (s *SQLStore) Inspect(ctx context.Context, userID string, now time.Time) ([]models.EntryInfo, error) {
	query := `SELECT ` + selectColumns + ` FROM recommendation_cache`
	var args []interface{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY user_id, mode`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &models.StoreError{Op: "inspect", Err: err}
	}
	defer rows.Close()

	infos := []models.EntryInfo{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, &models.StoreError{Op: "inspect", Err: err}
		}
		infos = append(infos, entryInfo(*entry, now))
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StoreError{Op: "inspect", Err: err}
	}
	return infos, nil
}

// Clear deletes every row
func (s *SQLStore) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recommendation_cache`)
	if err != nil {
		return 0, &models.StoreError{Op: "clear", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RepairLabels promotes pending rows that carry a non-empty payload to completed
func (s *SQLStore) RepairLabels(ctx context.Context) (int64, error) {
	nonEmpty := `json_array_length(recommendations) > 0`
	if s.db.Dialect == database.DialectMySQL {
		nonEmpty = `JSON_LENGTH(recommendations) > 0`
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE recommendation_cache
		SET status = 'completed', error_message = NULL
		WHERE status = 'pending' AND recommendations IS NOT NULL AND `+nonEmpty,
	)
	if err != nil {
		return 0, &models.StoreError{Op: "repair", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats counts unexpired rows per status and expired rows overall
func (s *SQLStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	now = normalizeTime(now)
	stats := newStats()

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM recommendation_cache WHERE expires_at > ? GROUP BY status`, now)
	if err != nil {
		return nil, &models.StoreError{Op: "stats", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, &models.StoreError{Op: "stats", Err: err}
		}
		stats.ByStatus[models.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StoreError{Op: "stats", Err: err}
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recommendation_cache WHERE expires_at <= ?`, now).Scan(&stats.Expired)
	if err != nil {
		return nil, &models.StoreError{Op: "stats", Err: err}
	}
	return stats, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.CacheEntry, error) {
	var (
		entry        models.CacheEntry
		mode, status string
		payload      sql.NullString
		errorMessage sql.NullString
		promptHash   sql.NullString
	)

	err := row.Scan(
		&entry.UserID,
		&mode,
		&status,
		&payload,
		&errorMessage,
		&promptHash,
		&entry.CreatedAt,
		&entry.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Mode = models.Mode(mode)
	entry.Status = models.Status(status)
	entry.ErrorMessage = errorMessage.String
	entry.PromptHash = promptHash.String
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.ExpiresAt = entry.ExpiresAt.UTC()

	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &entry.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode recommendations for %s: %w", entry.Key(), err)
		}
	}

	return &entry, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
