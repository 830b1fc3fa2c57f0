package mention

import (
	"sort"
	"strings"

	"teamboard/api/internal/store"
)

// RenderOptions carries the roster used to recognize "@Name" occurrences in
// persisted content, plus the viewer for "mentions you" flagging.
type RenderOptions struct {
	Profiles    []store.Profile
	Tags        []store.Tag
	Viewer      *store.Profile
	ViewerEmail string
}

type nameEntry struct {
	name string
	self bool
}

type span struct {
	start int // byte offset of '@'
	end   int // byte offset past the matched name
	self  bool
}

// Render rewrites literal "@Name" occurrences in persisted content into
// mention markup. Matching is against known display names, emails, and tag
// names; the longest matching name wins. Spans resolving to the viewer get a
// "mention-self" class. Unmatched "@tokens" stay plain text, and content
// already wrapped in mention markup is left alone, so the transform is
// idempotent.
func Render(content string, opts RenderOptions) string {
	spans := findMentions(content, rosterNames(opts))
	if len(spans) == 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content) + len(spans)*32)
	last := 0
	for _, sp := range spans {
		b.WriteString(content[last:sp.start])
		if sp.self {
			b.WriteString(`<span class="mention mention-self">`)
		} else {
			b.WriteString(`<span class="mention">`)
		}
		b.WriteString(content[sp.start:sp.end])
		b.WriteString(`</span>`)
		last = sp.end
	}
	b.WriteString(content[last:])
	return b.String()
}

// HasMention reports whether content mentions the viewer. Each '@' resolves
// against the full roster with the same longest-match rule Render uses, so a
// roster name that extends the viewer's name wins the span and does not count
// as a self mention. It backs the "mentions you" sidebar feed.
func HasMention(content string, opts RenderOptions) bool {
	for _, sp := range findMentions(content, rosterNames(opts)) {
		if sp.self {
			return true
		}
	}
	return false
}

func rosterNames(opts RenderOptions) []nameEntry {
	selfSet := make(map[string]bool)
	for _, e := range viewerNames(opts.Viewer, opts.ViewerEmail) {
		selfSet[Clean(e.name)] = true
	}

	seen := make(map[string]bool)
	entries := make([]nameEntry, 0, 2*len(opts.Profiles)+len(opts.Tags))
	add := func(name string) {
		if name == "" {
			return
		}
		key := Clean(name)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		entries = append(entries, nameEntry{name: name, self: selfSet[key]})
	}
	for _, p := range opts.Profiles {
		add(p.DisplayName)
		add(p.Email)
	}
	for _, t := range opts.Tags {
		add(t.Name)
	}
	// The viewer is matchable even when absent from the roster list.
	for _, e := range viewerNames(opts.Viewer, opts.ViewerEmail) {
		add(e.name)
	}
	sortLongestFirst(entries)
	return entries
}

func viewerNames(viewer *store.Profile, viewerEmail string) []nameEntry {
	entries := make([]nameEntry, 0, 3)
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" {
			return
		}
		key := Clean(name)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		entries = append(entries, nameEntry{name: name, self: true})
	}
	if viewer != nil {
		add(viewer.DisplayName)
		add(viewer.Email)
	}
	add(viewerEmail)
	sortLongestFirst(entries)
	return entries
}

func sortLongestFirst(entries []nameEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return len([]rune(entries[i].name)) > len([]rune(entries[j].name))
	})
}

// findMentions scans content for "@Name" occurrences outside of HTML tags and
// outside existing mention spans, longest name winning at each '@'.
func findMentions(content string, names []nameEntry) []span {
	if len(names) == 0 {
		return nil
	}
	r := []rune(content)
	offsets := runeByteOffsets(content)

	spans := make([]span, 0, 4)
	inTag := false
	skipDepth := 0
	for i := 0; i < len(r); i++ {
		switch {
		case r[i] == '<':
			inTag = true
			if tag := tagAt(r, i); strings.HasPrefix(tag, "span") && strings.Contains(tag, "mention") {
				skipDepth++
			} else if tag == "/span" && skipDepth > 0 {
				skipDepth--
			}
			continue
		case inTag:
			if r[i] == '>' {
				inTag = false
			}
			continue
		case skipDepth > 0:
			continue
		case r[i] != '@':
			continue
		}

		for _, entry := range names {
			n := len([]rune(entry.name))
			if i+1+n > len(r) {
				continue
			}
			candidate := string(r[i+1 : i+1+n])
			if strings.ContainsAny(candidate, "<>") {
				continue
			}
			if Clean(candidate) != Clean(entry.name) {
				continue
			}
			spans = append(spans, span{
				start: offsets[i],
				end:   offsets[i+1+n],
				self:  entry.self,
			})
			i += n // resume after the matched name
			break
		}
	}
	return spans
}

// tagAt returns the lowercased tag contents starting at the '<' at index i,
// up to the closing '>' (or end of input).
func tagAt(r []rune, i int) string {
	j := i + 1
	for j < len(r) && r[j] != '>' {
		j++
	}
	return strings.ToLower(string(r[i+1 : j]))
}

// runeByteOffsets maps rune index -> byte offset, with one extra entry for
// the end of the string.
func runeByteOffsets(s string) []int {
	offsets := make([]int, 0, len(s)+1)
	for i := range s {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(s))
	return offsets
}
