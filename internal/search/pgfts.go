package search

import (
	"context"
	"database/sql"
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

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across threads and replies using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultThread {
		where := "t.fts @@ " + tsQuery
		if q.FilterTeamID != nil {
			where += fmt.Sprintf(" AND t.team_id = $%d", argN)
			args = append(args, *q.FilterTeamID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'thread'::text AS type, t.id::text, t.title,
				ts_headline('english', t.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.id::text AS thread_id, t.team_id, t.status,
				ts_rank(t.fts, %s) AS rank
			FROM threads t
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultReply {
		where := "r.fts @@ " + tsQuery
		if q.FilterTeamID != nil {
			where += fmt.Sprintf(" AND t.team_id = $%d", argN)
			args = append(args, *q.FilterTeamID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'reply'::text AS type, r.id::text, r.author AS title,
				ts_headline('english', r.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				r.thread_id::text, t.team_id, ''::text AS status,
				ts_rank(r.fts, %s) AS rank
			FROM replies r
			JOIN threads t ON t.id = r.thread_id
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, thread_id, team_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

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
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ThreadID, &r.TeamID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ThreadRecord, []ReplyRecord, error) {
	threadRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, title, content, author, team_id, status
		FROM threads
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load threads: %w", err)
	}
	defer threadRows.Close()

	threads := make([]ThreadRecord, 0)
	for threadRows.Next() {
		var t ThreadRecord
		if err := threadRows.Scan(&t.ID, &t.Title, &t.Content, &t.Author, &t.TeamID, &t.Status); err != nil {
			return nil, nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	if err := threadRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate threads: %w", err)
	}

	replyRows, err := p.db.QueryContext(ctx, `
		SELECT r.id::text, r.thread_id::text, r.content, r.author, t.team_id
		FROM replies r
		JOIN threads t ON t.id = r.thread_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load replies: %w", err)
	}
	defer replyRows.Close()

	replies := make([]ReplyRecord, 0)
	for replyRows.Next() {
		var r ReplyRecord
		if err := replyRows.Scan(&r.ID, &r.ThreadID, &r.Content, &r.Author, &r.TeamID); err != nil {
			return nil, nil, fmt.Errorf("scan reply: %w", err)
		}
		replies = append(replies, r)
	}
	if err := replyRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate replies: %w", err)
	}

	return threads, replies, nil
}
