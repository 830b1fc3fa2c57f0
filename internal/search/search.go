package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultThread ResultType = "thread"
	ResultReply  ResultType = "reply"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	ThreadID string     `json:"threadId"`
	TeamID   *int64     `json:"teamId"`
	Status   string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterTeamID *int64
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexThread(t ThreadRecord) error
	IndexReply(r ReplyRecord) error
	DeleteThread(id string) error
	DeleteReply(id string) error
}

// ThreadRecord is the data we index for a thread.
type ThreadRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Author  string `json:"author"`
	TeamID  *int64 `json:"teamId"`
	Status  string `json:"status"`
}

// ReplyRecord is the data we index for a reply.
type ReplyRecord struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
	Content  string `json:"content"`
	Author   string `json:"author"`
	TeamID   *int64 `json:"teamId"`
}
