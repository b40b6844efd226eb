package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"scribe/api/internal/content"
)

// PgFTS implements Searcher using the drafts.search_vector column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "d.search_vector @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if status := strings.TrimSpace(q.Status); status != "" {
		where += " AND d.status = $2"
		args = append(args, status)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM drafts d WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.title,
			ts_headline('english', regexp_replace(d.content, '\[[1-9][0-9]*\]', '', 'g'),
				plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			d.status, jsonb_array_length(d.citations)
		FROM drafts d
		WHERE %s
		ORDER BY ts_rank(d.search_vector, plainto_tsquery('english', $1)) DESC, d.updated_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Status, &r.CitationCount); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every non-archived draft for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DraftRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, citations, status, updated_at
		FROM drafts
		WHERE status <> 'archived'
	`)
	if err != nil {
		return nil, fmt.Errorf("load drafts: %w", err)
	}
	defer rows.Close()

	records := make([]DraftRecord, 0)
	for rows.Next() {
		var (
			draft         content.Draft
			citationsJSON []byte
		)
		if err := rows.Scan(&draft.ID, &draft.Title, &draft.Content, &citationsJSON, &draft.Status, &draft.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		if err := json.Unmarshal(citationsJSON, &draft.Citations); err != nil {
			return nil, fmt.Errorf("decode citations for %s: %w", draft.ID, err)
		}
		records = append(records, NewDraftRecord(draft))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return records, nil
}
