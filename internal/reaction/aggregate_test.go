package reaction

import (
	"testing"

	"teamboard/api/internal/store"
)

func strp(s string) *string { return &s }

func threadReaction(id, emoji, profile string) store.Reaction {
	return store.Reaction{ID: id, Emoji: emoji, ThreadID: strp("t1"), ProfileID: profile}
}

func TestGroupByEmojiFirstSeenOrder(t *testing.T) {
	reactions := []store.Reaction{
		threadReaction("r1", "👍", "p1"),
		threadReaction("r2", "🎉", "p2"),
		threadReaction("r3", "👍", "p2"),
		{ID: "r4", Emoji: "👍", ReplyID: strp("rep1"), ProfileID: "p3"},
	}

	groups := GroupByEmoji(reactions, ThreadTarget("t1"))
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d: %+v", len(groups), groups)
	}
	if groups[0].Emoji != "👍" || len(groups[0].Reactions) != 2 {
		t.Errorf("first group = %+v, want 👍 with 2 reactions", groups[0])
	}
	if groups[1].Emoji != "🎉" || len(groups[1].Reactions) != 1 {
		t.Errorf("second group = %+v, want 🎉 with 1 reaction", groups[1])
	}
}

func TestGroupByEmojiSeparatesTargets(t *testing.T) {
	reactions := []store.Reaction{
		threadReaction("r1", "👍", "p1"),
		{ID: "r2", Emoji: "👍", ReplyID: strp("rep1"), ProfileID: "p1"},
	}

	groups := GroupByEmoji(reactions, ReplyTarget("rep1"))
	if len(groups) != 1 || len(groups[0].Reactions) != 1 || groups[0].Reactions[0].ID != "r2" {
		t.Errorf("reply target groups = %+v, want only r2", groups)
	}
}

func TestHasReacted(t *testing.T) {
	reactions := []store.Reaction{threadReaction("r1", "👍", "p1")}
	target := ThreadTarget("t1")

	if !HasReacted(reactions, target, "👍", "p1") {
		t.Error("p1 should have reacted with 👍")
	}
	if HasReacted(reactions, target, "👍", "p2") {
		t.Error("p2 has not reacted")
	}
	if HasReacted(reactions, target, "🎉", "p1") {
		t.Error("p1 has not used 🎉")
	}
}

// Two users click 👍 on the same thread, then the first clicks again.
func TestToggleScenario(t *testing.T) {
	target := ThreadTarget("t1")
	var reactions []store.Reaction

	if op := Toggle(reactions, target, "👍", "p1"); !op.Add {
		t.Fatalf("first click = %+v, want Add", op)
	}
	reactions = append(reactions, threadReaction("r1", "👍", "p1"))

	if op := Toggle(reactions, target, "👍", "p2"); !op.Add {
		t.Fatalf("second user's click = %+v, want Add", op)
	}
	reactions = append(reactions, threadReaction("r2", "👍", "p2"))

	groups := GroupByEmoji(reactions, target)
	if len(groups) != 1 || len(groups[0].Reactions) != 2 {
		t.Fatalf("groups = %+v, want one 👍 group of 2", groups)
	}

	op := Toggle(reactions, target, "👍", "p1")
	if op.Add || op.RemoveID != "r1" {
		t.Fatalf("repeat click = %+v, want remove r1", op)
	}
}

// Toggling twice with no interleaving change restores the original state.
func TestToggleInvolution(t *testing.T) {
	target := ThreadTarget("t1")
	reactions := []store.Reaction{threadReaction("r1", "👍", "p1")}

	op := Toggle(reactions, target, "👍", "p1")
	if op.RemoveID != "r1" {
		t.Fatalf("first toggle = %+v", op)
	}
	after := reactions[:0:0]

	op = Toggle(after, target, "👍", "p1")
	if !op.Add {
		t.Fatalf("second toggle = %+v, want Add", op)
	}
}
