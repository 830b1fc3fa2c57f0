package search

import "testing"

func TestBuildSearchRequestsCarryQueryText(t *testing.T) {
	teamID := int64(4)
	reqs := buildSearchRequests(Query{Text: "deploy", FilterTeamID: &teamID, Limit: 5, Offset: 10})
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want one per index", len(reqs))
	}
	for _, r := range reqs {
		if r.Query != "deploy" {
			t.Errorf("index %s: query = %q, want %q", r.IndexUID, r.Query, "deploy")
		}
		if r.Limit != 5 || r.Offset != 10 {
			t.Errorf("index %s: limit/offset = %d/%d", r.IndexUID, r.Limit, r.Offset)
		}
		filter, ok := r.Filter.([]string)
		if !ok || len(filter) != 1 || filter[0] != "teamId = 4" {
			t.Errorf("index %s: filter = %v", r.IndexUID, r.Filter)
		}
	}
}

func TestBuildSearchRequestsTypeFilter(t *testing.T) {
	reqs := buildSearchRequests(Query{Text: "retro", FilterType: ResultReply})
	if len(reqs) != 1 || reqs[0].IndexUID != idxReplies {
		t.Fatalf("requests = %+v, want only the replies index", reqs)
	}
	if reqs[0].Query != "retro" {
		t.Errorf("query = %q, want %q", reqs[0].Query, "retro")
	}
	if reqs[0].Limit != 20 {
		t.Errorf("limit = %d, want default 20", reqs[0].Limit)
	}
}
