package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"teamboard/api/internal/metrics"
	"teamboard/api/internal/reaction"
	"teamboard/api/internal/realtime"
	"teamboard/api/internal/store"
)

// Mutator writes feed rows to the relational store.
type Mutator interface {
	InsertThread(ctx context.Context, t store.Thread) error
	DeleteThread(ctx context.Context, id string) error
	UpdateThreadStatus(ctx context.Context, id, status string, completedBy *string, completedAt *time.Time) error
	InsertReply(ctx context.Context, r store.Reply) error
	DeleteReply(ctx context.Context, id string) error
	InsertReaction(ctx context.Context, r store.Reaction) error
	DeleteReaction(ctx context.Context, id string) error
}

// Publisher announces that rows of an entity changed.
type Publisher interface {
	Publish(ctx context.Context, entity string) error
}

// Writer performs feed mutations against a store and broadcasts each change.
// After every write it triggers a silent refetch on the attached Store so the
// acting client converges without waiting for its own notification to come
// back around.
type Writer struct {
	store Mutator
	pub   Publisher
	feed  *Store
}

func NewWriter(m Mutator, pub Publisher, feed *Store) *Writer {
	return &Writer{store: m, pub: pub, feed: feed}
}

func (w *Writer) settle(ctx context.Context, entity string) {
	metrics.Mutations.WithLabelValues(entity).Inc()
	if err := w.pub.Publish(ctx, entity); err != nil {
		// Peers miss this change until the next notification lands. The
		// local refetch below still keeps the acting client correct.
		log.Printf("feed: publish %s change: %v", entity, err)
	}
	_ = w.feed.Refetch(ctx, true)
}

// CreateThread inserts a new open thread authored by the profile.
func (w *Writer) CreateThread(ctx context.Context, author store.Profile, title, content string, teamID *int64) (store.Thread, error) {
	t := store.Thread{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		Author:    author.DisplayName,
		AuthorID:  author.ID,
		TeamID:    teamID,
		Status:    store.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.store.InsertThread(ctx, t); err != nil {
		return store.Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	w.settle(ctx, realtime.EntityThreads)
	return t, nil
}

func (w *Writer) DeleteThread(ctx context.Context, id string) error {
	if err := w.store.DeleteThread(ctx, id); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	w.settle(ctx, realtime.EntityThreads)
	return nil
}

// ToggleStatus flips a thread between pending and completed. Completing
// stamps who did it and when; reopening clears both fields together.
func (w *Writer) ToggleStatus(ctx context.Context, t store.Thread, actor store.Profile) error {
	status := store.StatusCompleted
	var completedBy *string
	var completedAt *time.Time
	if t.Status == store.StatusCompleted {
		status = store.StatusPending
	} else {
		name := actor.DisplayName
		now := time.Now().UTC()
		completedBy = &name
		completedAt = &now
	}
	if err := w.store.UpdateThreadStatus(ctx, t.ID, status, completedBy, completedAt); err != nil {
		return fmt.Errorf("update thread status: %w", err)
	}
	w.settle(ctx, realtime.EntityThreads)
	return nil
}

func (w *Writer) AddReply(ctx context.Context, author store.Profile, threadID, content string) (store.Reply, error) {
	r := store.Reply{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Content:   content,
		Author:    author.DisplayName,
		AuthorID:  author.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.store.InsertReply(ctx, r); err != nil {
		return store.Reply{}, fmt.Errorf("insert reply: %w", err)
	}
	w.settle(ctx, realtime.EntityReplies)
	return r, nil
}

func (w *Writer) DeleteReply(ctx context.Context, id string) error {
	if err := w.store.DeleteReply(ctx, id); err != nil {
		return fmt.Errorf("delete reply: %w", err)
	}
	w.settle(ctx, realtime.EntityReplies)
	return nil
}

// ToggleReaction adds or removes the actor's reaction with the emoji on the
// target, deciding from the current rows. A concurrent duplicate insert is
// absorbed by the store's uniqueness guarantee and treated as success.
func (w *Writer) ToggleReaction(ctx context.Context, rows []store.Reaction, target reaction.Target, emoji string, actor store.Profile) error {
	op := reaction.Toggle(rows, target, emoji, actor.ID)
	if op.Add {
		r := store.Reaction{
			ID:        uuid.NewString(),
			Emoji:     emoji,
			ProfileID: actor.ID,
			CreatedAt: time.Now().UTC(),
		}
		if target.ThreadID != "" {
			id := target.ThreadID
			r.ThreadID = &id
		} else {
			id := target.ReplyID
			r.ReplyID = &id
		}
		err := w.store.InsertReaction(ctx, r)
		if err != nil && !errors.Is(err, store.ErrDuplicateReaction) {
			return fmt.Errorf("insert reaction: %w", err)
		}
	} else {
		if err := w.store.DeleteReaction(ctx, op.RemoveID); err != nil {
			return fmt.Errorf("delete reaction: %w", err)
		}
	}
	w.settle(ctx, realtime.EntityReactions)
	return nil
}
