// Package feed maintains a scoped in-memory read model of threads kept
// current by change notifications. Each connected client gets its own Store;
// the server also keeps one unscoped Store for sidebar queries.
package feed

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"teamboard/api/internal/metrics"
	"teamboard/api/internal/realtime"
	"teamboard/api/internal/store"
)

// Source loads the authoritative thread list from the relational store.
type Source interface {
	ListThreads(ctx context.Context, teamID *int64) ([]store.Thread, error)
}

// ChangeStream delivers change notifications for a set of entities. The
// callback receives the entity name; delivery is at-least-once and unordered,
// so consumers refetch rather than patch.
type ChangeStream interface {
	Subscribe(ctx context.Context, entities []string, fn func(entity string)) (io.Closer, error)
}

// Snapshot is a point-in-time view of the store. Loading is true only during
// the initial fetch for a scope; notification-driven refetches are silent.
type Snapshot struct {
	Threads []store.Thread
	Loading bool
	Err     error
}

// Store holds the thread read model for one team scope. A nil team ID means
// all teams. Safe for concurrent use.
type Store struct {
	source  Source
	streams ChangeStream

	mu       sync.Mutex
	teamID   *int64
	threads  []store.Thread
	loading  bool
	err      error
	gen      uint64
	sub      io.Closer
	onUpdate func()
}

func NewStore(source Source, streams ChangeStream) *Store {
	return &Store{source: source, streams: streams}
}

// OnUpdate registers a callback invoked after every snapshot change. Set it
// before Attach; it runs on the refetch goroutine without the lock held.
func (s *Store) OnUpdate(fn func()) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	threads := make([]store.Thread, len(s.threads))
	copy(threads, s.threads)
	return Snapshot{Threads: threads, Loading: s.loading, Err: s.err}
}

// Attach sets the scope, performs the initial (loading) fetch, and subscribes
// to change notifications for threads, replies, and reactions. Each
// notification triggers a silent refetch.
func (s *Store) Attach(ctx context.Context, teamID *int64) error {
	s.mu.Lock()
	s.teamID = teamID
	s.gen++
	s.loading = true
	s.mu.Unlock()

	if err := s.refetch(ctx, false); err != nil {
		return err
	}

	entities := []string{realtime.EntityThreads, realtime.EntityReplies, realtime.EntityReactions}
	sub, err := s.streams.Subscribe(ctx, entities, func(entity string) {
		// Notifications carry no payload. Whatever changed, reload the scope.
		metrics.StreamEvents.WithLabelValues(entity).Inc()
		_ = s.refetch(context.Background(), true)
	})
	if err != nil {
		return fmt.Errorf("subscribe feed: %w", err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// SetScope switches the store to a different team. In-flight refetches for
// the old scope are discarded by the generation guard; the new scope loads
// with the loading flag set, as on first attach.
func (s *Store) SetScope(ctx context.Context, teamID *int64) error {
	s.mu.Lock()
	s.teamID = teamID
	s.gen++
	s.loading = true
	s.threads = nil
	s.err = nil
	s.mu.Unlock()

	s.notify()
	return s.refetch(ctx, false)
}

// Detach closes the change subscription. The store keeps its last snapshot
// but stops updating.
func (s *Store) Detach() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.gen++
	s.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// Refetch reloads the scope from the source. Silent refetches leave the
// loading flag untouched so an up-to-date view never flickers back into a
// loading state.
func (s *Store) Refetch(ctx context.Context, silent bool) error {
	return s.refetch(ctx, silent)
}

func (s *Store) refetch(ctx context.Context, silent bool) error {
	kind := "initial"
	if silent {
		kind = "silent"
	}
	metrics.Refetches.WithLabelValues(kind).Inc()

	s.mu.Lock()
	gen := s.gen
	teamID := s.teamID
	if !silent {
		s.loading = true
	}
	s.mu.Unlock()

	threads, err := s.source.ListThreads(ctx, teamID)

	s.mu.Lock()
	if s.gen != gen {
		// Scope changed while the fetch was in flight. The result belongs
		// to the old scope and must not overwrite the new one.
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.err = fmt.Errorf("list threads: %w", err)
		if !silent {
			s.loading = false
		}
		s.mu.Unlock()
		s.notify()
		return s.err
	}
	sortFeed(threads)
	s.threads = threads
	s.err = nil
	s.loading = false
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Store) notify() {
	s.mu.Lock()
	fn := s.onUpdate
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// sortFeed orders threads and their replies oldest first so the feed reads
// top to bottom regardless of how the store returned them.
func sortFeed(threads []store.Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].CreatedAt.Before(threads[j].CreatedAt)
	})
	for i := range threads {
		replies := threads[i].Replies
		sort.SliceStable(replies, func(a, b int) bool {
			return replies[a].CreatedAt.Before(replies[b].CreatedAt)
		})
	}
}
