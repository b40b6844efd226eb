package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"scribe/api/internal/content"
)

var (
	ErrDraftNotFound = errors.New("draft not found")
	ErrUserNotFound  = errors.New("user not found")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// EnsureUserByName returns the user with that display name, creating an
// author account on first sight.
func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, email, role, created_at FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (display_name, email)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.scribe.dev'))
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, email, role, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListDrafts(ctx context.Context, limit int) ([]DraftSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, status, word_count, jsonb_array_length(citations), updated_at
		FROM drafts
		WHERE status <> 'archived'
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	items := make([]DraftSummary, 0)
	for rows.Next() {
		var item DraftSummary
		if err := rows.Scan(&item.ID, &item.Title, &item.Status, &item.WordCount, &item.CitationCount, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, draftID string) (Draft, error) {
	var (
		item          Draft
		citationsJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, citations, word_count, status, created_by, created_at, updated_at
		FROM drafts
		WHERE id=$1
	`, draftID).Scan(&item.ID, &item.Title, &item.Content, &citationsJSON, &item.WordCount, &item.Status, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, ErrDraftNotFound
	}
	if err != nil {
		return Draft{}, fmt.Errorf("get draft: %w", err)
	}
	citations, err := decodeCitations(citationsJSON)
	if err != nil {
		return Draft{}, fmt.Errorf("decode citations for %s: %w", draftID, err)
	}
	item.Citations = citations
	return item, nil
}

func (s *PostgresStore) InsertDraft(ctx context.Context, item Draft) error {
	citationsJSON, err := encodeCitations(item.Citations)
	if err != nil {
		return err
	}
	status := item.Status
	if status == "" {
		status = content.StatusDraft
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, title, content, citations, word_count, status, created_by)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Title, item.Content, citationsJSON, content.WordCount(item.Content), string(status), item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

// SaveDraftContent writes content and citations together. Writing the same
// payload twice leaves the row as it was apart from updated_at.
func (s *PostgresStore) SaveDraftContent(ctx context.Context, draftID, text string, citations []content.Citation) error {
	citationsJSON, err := encodeCitations(citations)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts
		SET content=$2, citations=$3::jsonb, word_count=$4,
			status=CASE WHEN status='draft' THEN 'editing' ELSE status END,
			updated_at=NOW()
		WHERE id=$1
	`, draftID, text, citationsJSON, content.WordCount(text))
	if err != nil {
		return fmt.Errorf("save draft content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save draft content: %w", err)
	}
	if affected == 0 {
		return ErrDraftNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateDraftStatus(ctx context.Context, draftID string, status content.Status) error {
	result, err := s.db.ExecContext(ctx, `UPDATE drafts SET status=$2, updated_at=NOW() WHERE id=$1`, draftID, string(status))
	if err != nil {
		return fmt.Errorf("update draft status: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrDraftNotFound
	}
	return nil
}

func (s *PostgresStore) InsertFeedback(ctx context.Context, item Feedback) error {
	alternatives := strings.TrimSpace(item.Alternatives)
	if alternatives == "" {
		alternatives = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO draft_feedback (id, draft_id, reason, comment, alternatives, created_by)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`, item.ID, item.DraftID, item.Reason, item.Comment, alternatives, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertExport(ctx context.Context, item ExportRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO draft_exports (id, draft_id, format, object_key, citation_count, document_count, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.DraftID, item.Format, item.ObjectKey, item.CitationCount, item.DocumentCount, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert export: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListExports(ctx context.Context, draftID string) ([]ExportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, draft_id, format, object_key, citation_count, document_count, created_by, created_at
		FROM draft_exports
		WHERE draft_id=$1
		ORDER BY created_at DESC
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()

	items := make([]ExportRecord, 0)
	for rows.Next() {
		var item ExportRecord
		if err := rows.Scan(&item.ID, &item.DraftID, &item.Format, &item.ObjectKey, &item.CitationCount, &item.DocumentCount, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exports: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func encodeCitations(citations []content.Citation) (string, error) {
	if citations == nil {
		citations = []content.Citation{}
	}
	raw, err := json.Marshal(citations)
	if err != nil {
		return "", fmt.Errorf("encode citations: %w", err)
	}
	return string(raw), nil
}

func decodeCitations(raw []byte) ([]content.Citation, error) {
	citations := make([]content.Citation, 0)
	if len(raw) == 0 {
		return citations, nil
	}
	if err := json.Unmarshal(raw, &citations); err != nil {
		return nil, err
	}
	return citations, nil
}
