package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxThreads = "teamboard_threads"
	idxReplies = "teamboard_replies"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// Returns a client that keeps retrying in the background if the initial
// connection fails.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxThreads,
			primaryKey: "id",
			filterable: []string{"teamId", "status"},
			searchable: []string{"title", "content", "author"},
		},
		{
			uid:        idxReplies,
			primaryKey: "id",
			filterable: []string{"teamId", "threadId"},
			searchable: []string{"content", "author"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// buildSearchRequests expands a query into one request per target index.
// Every request carries the query text; the type filter narrows the index
// set and the team filter becomes a Meilisearch filter expression.
func buildSearchRequests(q Query) []*meili.SearchRequest {
	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxThreads, ResultThread},
		{idxReplies, ResultReply},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		if q.FilterTeamID != nil {
			sr.Filter = []string{fmt.Sprintf("teamId = %d", *q.FilterTeamID)}
		}
		queries = append(queries, sr)
	}
	return queries
}

// Search queries both indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	queries := buildSearchRequests(q)
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxThreads:
		return ResultThread
	case idxReplies:
		return ResultReply
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.TeamID = decodeInt64Ptr(hit, "teamId")

	switch rtyp {
	case ResultThread:
		r.ThreadID = r.ID
		r.Status = decodeString(hit, "status")
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	case ResultReply:
		r.ThreadID = decodeString(hit, "threadId")
		r.Title = decodeString(hit, "author")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt64Ptr(hit meili.Hit, key string) *int64 {
	raw, ok := hit[key]
	if !ok {
		return nil
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err == nil {
		return &v
	}
	// Hits sometimes round-trip numbers as strings.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexThread adds or updates a thread in the search index.
func (m *Meili) IndexThread(t ThreadRecord) error {
	_, err := m.client.Index(idxThreads).AddDocuments([]ThreadRecord{t}, nil)
	return err
}

// IndexReply adds or updates a reply in the search index.
func (m *Meili) IndexReply(r ReplyRecord) error {
	_, err := m.client.Index(idxReplies).AddDocuments([]ReplyRecord{r}, nil)
	return err
}

// DeleteThread removes a thread from the search index.
func (m *Meili) DeleteThread(id string) error {
	_, err := m.client.Index(idxThreads).DeleteDocument(id, nil)
	return err
}

// DeleteReply removes a reply from the search index.
func (m *Meili) DeleteReply(id string) error {
	_, err := m.client.Index(idxReplies).DeleteDocument(id, nil)
	return err
}

// IndexThreads bulk-indexes threads.
func (m *Meili) IndexThreads(threads []ThreadRecord) error {
	if len(threads) == 0 {
		return nil
	}
	_, err := m.client.Index(idxThreads).AddDocuments(threads, nil)
	return err
}

// IndexReplies bulk-indexes replies.
func (m *Meili) IndexReplies(replies []ReplyRecord) error {
	if len(replies) == 0 {
		return nil
	}
	_, err := m.client.Index(idxReplies).AddDocuments(replies, nil)
	return err
}
