package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the notes table using plainto_tsquery and ts_rank,
// with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if len(q.OwnerIDs) == 0 {
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := "n.fts @@ " + tsQuery

	placeholders := make([]string, len(q.OwnerIDs))
	for i, id := range q.OwnerIDs {
		placeholders[i] = fmt.Sprintf("$%d", argN)
		args = append(args, id)
		argN++
	}
	where += fmt.Sprintf(" AND n.owner_id IN (%s)", strings.Join(placeholders, ", "))

	if q.FilterFolderID != "" {
		where += fmt.Sprintf(" AND n.folder_id = $%d", argN)
		args = append(args, q.FilterFolderID)
		argN++
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM notes n WHERE %s", where)

	dataSQL := fmt.Sprintf(`
		SELECT n.id, n.title,
			ts_headline('english', coalesce(n.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			n.folder_id, n.owner_id
		FROM notes n
		WHERE %s
		ORDER BY ts_rank(n.fts, %s) DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.FolderID, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all note records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]NoteRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, tags, folder_id, owner_id
		FROM notes
	`)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	defer rows.Close()

	records := make([]NoteRecord, 0)
	for rows.Next() {
		var rec NoteRecord
		var tags []byte
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Content, &tags, &rec.FolderID, &rec.OwnerID); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		if err := json.Unmarshal(tags, &rec.Tags); err != nil {
			return nil, fmt.Errorf("decode note tags: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}

	return records, nil
}
