package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexThread indexes a thread (fire-and-forget to Meilisearch).
func (s *Service) IndexThread(t ThreadRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexThread(t); err != nil {
			log.Printf("search: index thread %s: %v", t.ID, err)
		}
	}()
}

// IndexReply indexes a reply (fire-and-forget to Meilisearch).
func (s *Service) IndexReply(r ReplyRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexReply(r); err != nil {
			log.Printf("search: index reply %s: %v", r.ID, err)
		}
	}()
}

// DeleteThread removes a thread from the search index (fire-and-forget).
func (s *Service) DeleteThread(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteThread(id); err != nil {
			log.Printf("search: delete thread %s: %v", id, err)
		}
	}()
}

// DeleteReply removes a reply from the search index (fire-and-forget).
func (s *Service) DeleteReply(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteReply(id); err != nil {
			log.Printf("search: delete reply %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	threads, replies, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexThreads(threads); err != nil {
		log.Printf("search: reindex threads: %v", err)
	}
	if err := s.meili.IndexReplies(replies); err != nil {
		log.Printf("search: reindex replies: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
