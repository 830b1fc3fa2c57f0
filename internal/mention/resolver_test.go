package mention

import (
	"testing"

	"teamboard/api/internal/store"
)

func int64p(v int64) *int64 { return &v }

func testRoster() ([]store.Profile, []store.Tag) {
	people := []store.Profile{
		{ID: "p1", DisplayName: "Alice", Email: "alice@example.com", AvatarURL: "https://cdn/a.png"},
		{ID: "p2", DisplayName: "Bob", Email: "bob@example.com"},
		{ID: "p3", DisplayName: "", Email: "ghost@example.com"},
	}
	tags := []store.Tag{
		{ID: 1, Name: "urgent"},                    // global
		{ID: 2, Name: "design", TeamID: int64p(7)}, // team 7 only
		{ID: 3, Name: "ops", TeamID: int64p(9)},
	}
	return people, tags
}

func TestResolveEmptyQueryReturnsUnion(t *testing.T) {
	people, tags := testRoster()
	got := Resolve("", people, tags, nil)
	if len(got) != 6 {
		t.Fatalf("expected 6 candidates, got %d: %+v", len(got), got)
	}
	// People first, then tags, both in source order.
	if got[0].Display != "Alice" || got[0].Kind != KindUser {
		t.Errorf("first candidate = %+v, want Alice", got[0])
	}
	if got[3].Display != "urgent" || got[3].Kind != KindTag {
		t.Errorf("fourth candidate = %+v, want urgent tag", got[3])
	}
}

func TestResolveMatchesNameAndEmail(t *testing.T) {
	people, tags := testRoster()

	byName := Resolve("ali", people, tags, nil)
	if len(byName) != 1 || byName[0].ID != "p1" {
		t.Fatalf("query 'ali' = %+v, want Alice only", byName)
	}

	byEmail := Resolve("bob@", people, tags, nil)
	if len(byEmail) != 1 || byEmail[0].ID != "p2" {
		t.Fatalf("query 'bob@' = %+v, want Bob only", byEmail)
	}
}

func TestResolveIsCaseAndDiacriticInsensitive(t *testing.T) {
	people := []store.Profile{{ID: "p1", DisplayName: "Müller", Email: "m@example.com"}}

	for _, query := range []string{"MULLER", "müll", "mull"} {
		got := Resolve(query, people, nil, nil)
		if len(got) != 1 {
			t.Errorf("query %q did not match Müller: %+v", query, got)
		}
	}
}

func TestResolveNoNameFallback(t *testing.T) {
	people, tags := testRoster()
	got := Resolve("ghost", people, tags, nil)
	if len(got) != 1 {
		t.Fatalf("query 'ghost' = %+v", got)
	}
	if got[0].Display != "No Name" {
		t.Errorf("display = %q, want %q", got[0].Display, "No Name")
	}
	if got[0].Sub != "ghost@example.com" {
		t.Errorf("sub = %q, want email", got[0].Sub)
	}
}

func TestResolveTagTeamScope(t *testing.T) {
	people, tags := testRoster()

	// Concrete scope: foreign-team tags excluded for any query.
	got := Resolve("", people, tags, int64p(7))
	for _, c := range got {
		if c.Display == "ops" {
			t.Errorf("tag scoped to team 9 leaked into team 7 scope: %+v", got)
		}
	}
	found := false
	for _, c := range got {
		if c.Display == "design" {
			found = true
		}
	}
	if !found {
		t.Error("tag scoped to team 7 missing from team 7 scope")
	}

	// "All" scope (nil) includes every tag.
	all := Resolve("", people, tags, nil)
	tagCount := 0
	for _, c := range all {
		if c.Kind == KindTag {
			tagCount++
		}
	}
	if tagCount != 3 {
		t.Errorf("nil scope tag count = %d, want 3", tagCount)
	}

	// Global tags always match regardless of scope.
	scoped := Resolve("urg", people, tags, int64p(9))
	if len(scoped) != 1 || scoped[0].Display != "urgent" {
		t.Errorf("global tag not matched under concrete scope: %+v", scoped)
	}
}

func TestResolveTagSubIsFixedMarker(t *testing.T) {
	_, tags := testRoster()
	got := Resolve("urgent", nil, tags, nil)
	if len(got) != 1 || got[0].Sub != tagSub {
		t.Errorf("tag candidate = %+v, want sub %q", got, tagSub)
	}
}

func TestCleanStripsWhitespace(t *testing.T) {
	if got := Clean("Foo  Bar"); got != "foobar" {
		t.Errorf("Clean = %q, want %q", got, "foobar")
	}
}
