package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ErrDuplicateReaction is returned when the store-level uniqueness constraint
// rejects a second reaction with the same emoji from the same profile on the
// same target.
var ErrDuplicateReaction = errors.New("duplicate reaction")

func (s *PostgresStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, display_name, COALESCE(avatar_url, ''), role, created_at
		FROM profiles
		ORDER BY display_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	items := make([]Profile, 0)
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Email, &p.DisplayName, &p.AvatarURL, &p.Role, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetProfileByID(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, COALESCE(avatar_url, ''), role, created_at
		FROM profiles WHERE id = $1
	`, id).Scan(&p.ID, &p.Email, &p.DisplayName, &p.AvatarURL, &p.Role, &p.CreatedAt)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

// EnsureProfileByName finds a profile by display name or email, creating a
// Member profile when none exists. Login is name-based; there is no password
// flow here.
func (s *PostgresStore) EnsureProfileByName(ctx context.Context, name string) (Profile, error) {
	const find = `
		SELECT id, email, display_name, COALESCE(avatar_url, ''), role, created_at
		FROM profiles WHERE display_name = $1 OR email = $1
	`
	var p Profile
	err := s.db.QueryRowContext(ctx, find, name).Scan(&p.ID, &p.Email, &p.DisplayName, &p.AvatarURL, &p.Role, &p.CreatedAt)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("lookup profile: %w", err)
	}

	const insert = `
		INSERT INTO profiles (id, email, display_name, role)
		VALUES (gen_random_uuid(), CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.teamboard.dev'), $1, 'Member')
		RETURNING id, email, display_name, COALESCE(avatar_url, ''), role, created_at
	`
	if err := s.db.QueryRowContext(ctx, insert, name).Scan(&p.ID, &p.Email, &p.DisplayName, &p.AvatarURL, &p.Role, &p.CreatedAt); err != nil {
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListTeams(ctx context.Context) ([]Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), COALESCE(icon, ''), COALESCE(icon_color, ''), COALESCE(order_index, 0), created_at
		FROM teams
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	items := make([]Team, 0)
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Icon, &t.IconColor, &t.OrderIndex, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(color, ''), team_id, created_at
		FROM tags
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &t.TeamID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// ListThreads returns threads oldest-first with replies nested, also sorted
// ascending. A nil teamID means every team ("All" scope).
func (s *PostgresStore) ListThreads(ctx context.Context, teamID *int64) ([]Thread, error) {
	query := `
		SELECT id, title, content, author, author_id, team_id, status, is_pinned, completed_by, completed_at, created_at
		FROM threads
	`
	args := []any{}
	if teamID != nil {
		query += ` WHERE team_id = $1`
		args = append(args, *teamID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	threads := make([]Thread, 0)
	index := make(map[string]int)
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.Title, &t.Content, &t.Author, &t.AuthorID, &t.TeamID, &t.Status, &t.IsPinned, &t.CompletedBy, &t.CompletedAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		t.Replies = make([]Reply, 0)
		t.Reactions = make([]Reaction, 0)
		index[t.ID] = len(threads)
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	if len(threads) == 0 {
		return threads, nil
	}

	replyQuery := `
		SELECT r.id, r.thread_id, r.content, r.author, r.author_id, r.created_at
		FROM replies r
		JOIN threads t ON t.id = r.thread_id
	`
	replyArgs := []any{}
	if teamID != nil {
		replyQuery += ` WHERE t.team_id = $1`
		replyArgs = append(replyArgs, *teamID)
	}
	replyQuery += ` ORDER BY r.created_at ASC`

	replyRows, err := s.db.QueryContext(ctx, replyQuery, replyArgs...)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer replyRows.Close()

	replyThread := make(map[string]string)
	for replyRows.Next() {
		var r Reply
		if err := replyRows.Scan(&r.ID, &r.ThreadID, &r.Content, &r.Author, &r.AuthorID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		replyThread[r.ID] = r.ThreadID
		if i, ok := index[r.ThreadID]; ok {
			threads[i].Replies = append(threads[i].Replies, r)
		}
	}
	if err := replyRows.Err(); err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}

	reactions, err := s.ListReactions(ctx)
	if err != nil {
		return nil, err
	}
	for _, reaction := range reactions {
		switch {
		case reaction.ThreadID != nil:
			if i, ok := index[*reaction.ThreadID]; ok {
				threads[i].Reactions = append(threads[i].Reactions, reaction)
			}
		case reaction.ReplyID != nil:
			if threadID, ok := replyThread[*reaction.ReplyID]; ok {
				if i, ok := index[threadID]; ok {
					threads[i].Reactions = append(threads[i].Reactions, reaction)
				}
			}
		}
	}

	return threads, nil
}

func (s *PostgresStore) GetThread(ctx context.Context, id string) (Thread, error) {
	var t Thread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, author, author_id, team_id, status, is_pinned, completed_by, completed_at, created_at
		FROM threads WHERE id = $1
	`, id).Scan(&t.ID, &t.Title, &t.Content, &t.Author, &t.AuthorID, &t.TeamID, &t.Status, &t.IsPinned, &t.CompletedBy, &t.CompletedAt, &t.CreatedAt)
	if err != nil {
		return Thread{}, err
	}
	return t, nil
}

func (s *PostgresStore) InsertThread(ctx context.Context, t Thread) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, title, content, author, author_id, team_id, status, is_pinned)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.Title, t.Content, t.Author, t.AuthorID, t.TeamID, t.Status, t.IsPinned)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteThread(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// UpdateThreadStatus flips a thread between pending and completed. The
// completion actor and timestamp are set together on completion and cleared
// together on reopen, in the same statement.
func (s *PostgresStore) UpdateThreadStatus(ctx context.Context, id, status string, completedBy *string, completedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE threads SET status = $2, completed_by = $3, completed_at = $4 WHERE id = $1
	`, id, status, completedBy, completedAt)
	if err != nil {
		return fmt.Errorf("update thread status: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReply(ctx context.Context, id string) (Reply, error) {
	var r Reply
	err := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, content, author, author_id, created_at
		FROM replies WHERE id = $1
	`, id).Scan(&r.ID, &r.ThreadID, &r.Content, &r.Author, &r.AuthorID, &r.CreatedAt)
	if err != nil {
		return Reply{}, err
	}
	return r, nil
}

func (s *PostgresStore) InsertReply(ctx context.Context, r Reply) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replies (id, thread_id, content, author, author_id)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.ThreadID, r.Content, r.Author, r.AuthorID)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteReply(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM replies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReactions(ctx context.Context) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, emoji, thread_id, reply_id, profile_id, created_at
		FROM reactions
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	items := make([]Reaction, 0)
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.ID, &r.Emoji, &r.ThreadID, &r.ReplyID, &r.ProfileID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// FindReaction reports the current profile's reaction with the given emoji on
// the target, if any. Exactly one of threadID/replyID must be non-nil.
func (s *PostgresStore) FindReaction(ctx context.Context, threadID, replyID *string, profileID, emoji string) (*Reaction, error) {
	var r Reaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, emoji, thread_id, reply_id, profile_id, created_at
		FROM reactions
		WHERE profile_id = $1 AND emoji = $2
			AND thread_id IS NOT DISTINCT FROM $3
			AND reply_id IS NOT DISTINCT FROM $4
	`, profileID, emoji, threadID, replyID).Scan(&r.ID, &r.Emoji, &r.ThreadID, &r.ReplyID, &r.ProfileID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reaction: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) InsertReaction(ctx context.Context, r Reaction) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO reactions (id, emoji, thread_id, reply_id, profile_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`, r.ID, r.Emoji, r.ThreadID, r.ReplyID, r.ProfileID)
	if err != nil {
		return fmt.Errorf("insert reaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert reaction: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateReaction
	}
	return nil
}

func (s *PostgresStore) DeleteReaction(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reaction: %w", err)
	}
	return nil
}
