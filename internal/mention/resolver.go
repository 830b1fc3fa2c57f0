package mention

import (
	"strconv"
	"strings"

	"teamboard/api/internal/store"
)

type Kind string

const (
	KindUser Kind = "user"
	KindTag  Kind = "tag"
)

// tagSub is the fixed secondary line distinguishing tag candidates from
// people in the candidate list.
const tagSub = "tag"

// Candidate is a selectable mention target derived from a profile or tag.
// Candidates have no lifecycle of their own; they are recomputed on every
// query change.
type Candidate struct {
	ID      string `json:"id"`
	Display string `json:"display"`
	Sub     string `json:"sub,omitempty"`
	Kind    Kind   `json:"type"`
	Avatar  string `json:"avatar,omitempty"`
}

// Resolve filters the roster down to candidates matching query. Matching is
// case-, whitespace-, and diacritic-insensitive substring containment against
// a person's display name or email, or a tag's name. Tags scoped to a team
// other than teamScope are excluded; global tags (nil scope) always qualify.
// An empty query returns the full union, people first, in source order.
func Resolve(query string, people []store.Profile, tags []store.Tag, teamScope *int64) []Candidate {
	q := Clean(query)

	candidates := make([]Candidate, 0, len(people)+len(tags))
	for _, p := range people {
		if q != "" && !strings.Contains(Clean(p.DisplayName), q) && !strings.Contains(Clean(p.Email), q) {
			continue
		}
		display := p.DisplayName
		if display == "" {
			display = "No Name"
		}
		candidates = append(candidates, Candidate{
			ID:      p.ID,
			Display: display,
			Sub:     p.Email,
			Kind:    KindUser,
			Avatar:  p.AvatarURL,
		})
	}
	for _, t := range tags {
		if teamScope != nil && t.TeamID != nil && *t.TeamID != *teamScope {
			continue
		}
		if q != "" && !strings.Contains(Clean(t.Name), q) {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:      tagID(t),
			Display: t.Name,
			Sub:     tagSub,
			Kind:    KindTag,
		})
	}
	return candidates
}

func tagID(t store.Tag) string {
	return "tag-" + strconv.FormatInt(t.ID, 10)
}
