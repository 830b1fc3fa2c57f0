// Package reaction derives display and toggle state from flat reaction rows.
// Everything here is pure; the actual writes go through the feed store.
package reaction

import "teamboard/api/internal/store"

// Target identifies exactly one thread or one reply.
type Target struct {
	ThreadID string
	ReplyID  string
}

func ThreadTarget(id string) Target { return Target{ThreadID: id} }
func ReplyTarget(id string) Target  { return Target{ReplyID: id} }

func (t Target) matches(r store.Reaction) bool {
	if t.ThreadID != "" {
		return r.ThreadID != nil && *r.ThreadID == t.ThreadID
	}
	return r.ReplyID != nil && *r.ReplyID == t.ReplyID
}

// Group is every reaction with one emoji on one target.
type Group struct {
	Emoji     string
	Reactions []store.Reaction
}

// GroupByEmoji filters reactions to the target and groups them by emoji, in
// first-seen order so rendering is stable.
func GroupByEmoji(reactions []store.Reaction, target Target) []Group {
	groups := make([]Group, 0, 4)
	index := make(map[string]int)
	for _, r := range reactions {
		if !target.matches(r) {
			continue
		}
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, Group{Emoji: r.Emoji})
		}
		groups[i].Reactions = append(groups[i].Reactions, r)
	}
	return groups
}

// HasReacted reports whether the profile already holds a reaction with the
// emoji on the target.
func HasReacted(reactions []store.Reaction, target Target, emoji, profileID string) bool {
	for _, r := range reactions {
		if target.matches(r) && r.Emoji == emoji && r.ProfileID == profileID {
			return true
		}
	}
	return false
}

// Op is the outcome of a toggle decision: either add a new reaction or
// remove an existing one (by ID).
type Op struct {
	Add      bool
	RemoveID string
}

// Toggle decides what a click on (emoji, target) means for the profile: a
// removal when the profile already reacted with that emoji, an addition
// otherwise. Applying the decision twice in a row with no interleaving
// mutation returns the aggregate to its original state.
func Toggle(reactions []store.Reaction, target Target, emoji, profileID string) Op {
	for _, r := range reactions {
		if target.matches(r) && r.Emoji == emoji && r.ProfileID == profileID {
			return Op{RemoveID: r.ID}
		}
	}
	return Op{Add: true}
}
