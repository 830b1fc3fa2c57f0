package mention

import "strings"

// nbsp follows every inserted mention token so the next keystroke lands in
// ordinary text instead of inside the token.
const nbsp = '\u00a0'

// Token is an atomic, non-editable mention inside a buffer. The cursor can
// sit before or after a token, never inside it.
type Token struct {
	ID      string
	Display string
	Kind    Kind
}

// Run is one element of a buffer: either editable text or an opaque token.
type Run struct {
	Text  string
	Token *Token
}

func (r Run) isText() bool { return r.Token == nil }

// Buffer is a linear model of an editable rich-text surface: a sequence of
// text runs and mention tokens plus a cursor. It is the rendering-agnostic
// stand-in for a contenteditable element; an adapter maps it to and from
// whatever widget actually draws it.
//
// The cursor is addressed as (run index, rune offset within that run's text).
// For token runs only offset 0 (before) and 1 (after) are meaningful.
type Buffer struct {
	runs      []Run
	cursorRun int
	cursorOff int
}

// NewBuffer starts with a single text run and the cursor at its end.
func NewBuffer(text string) *Buffer {
	return &Buffer{
		runs:      []Run{{Text: text}},
		cursorRun: 0,
		cursorOff: len([]rune(text)),
	}
}

func (b *Buffer) Runs() []Run {
	out := make([]Run, len(b.runs))
	copy(out, b.runs)
	return out
}

// Cursor reports the current (run, rune offset) position.
func (b *Buffer) Cursor() (run, offset int) {
	return b.cursorRun, b.cursorOff
}

func (b *Buffer) SetCursor(run, offset int) bool {
	if run < 0 || run >= len(b.runs) {
		return false
	}
	max := 1
	if r := b.runs[run]; r.isText() {
		max = len([]rune(r.Text))
	}
	if offset < 0 || offset > max {
		return false
	}
	b.cursorRun = run
	b.cursorOff = offset
	return true
}

// InsertText types s at the cursor. Typing on a token boundary opens a new
// text run next to the token.
func (b *Buffer) InsertText(s string) {
	if s == "" {
		return
	}
	cur := b.runs[b.cursorRun]
	if !cur.isText() {
		at := b.cursorRun + b.cursorOff // 0 = before the token, 1 = after
		run := Run{Text: s}
		b.runs = append(b.runs[:at], append([]Run{run}, b.runs[at:]...)...)
		b.cursorRun = at
		b.cursorOff = len([]rune(s))
		return
	}
	r := []rune(cur.Text)
	r = append(r[:b.cursorOff], append([]rune(s), r[b.cursorOff:]...)...)
	b.runs[b.cursorRun].Text = string(r)
	b.cursorOff += len([]rune(s))
}

// Scan reports the in-progress mention query at the cursor, looking only at
// the text run the cursor sits in. A cursor on a token boundary is never a
// mention in progress.
func (b *Buffer) Scan() (query string, ok bool) {
	cur := b.runs[b.cursorRun]
	if !cur.isText() {
		return "", false
	}
	return Scan(cur.Text, b.cursorOff)
}

// InsertMention replaces the in-progress "@query" span with an atomic token
// for the chosen candidate followed by a NBSP, and places the cursor one
// position past the NBSP. The '@' is re-derived from the live buffer rather
// than remembered from an earlier Scan, since the surface may have changed.
//
// If the cursor is not inside a text run or no qualifying '@' exists, the
// buffer is left untouched and false is returned; callers just close their
// candidate list.
func (b *Buffer) InsertMention(c Candidate) bool {
	cur := b.runs[b.cursorRun]
	if !cur.isText() {
		return false
	}
	if _, ok := Scan(cur.Text, b.cursorOff); !ok {
		return false
	}

	r := []rune(cur.Text)
	at := b.cursorOff - 1
	for at >= 0 && r[at] != '@' {
		at--
	}

	before := string(r[:at])
	after := string(nbsp) + string(r[b.cursorOff:])

	token := Run{Token: &Token{ID: c.ID, Display: c.Display, Kind: c.Kind}}
	replacement := make([]Run, 0, 3)
	if before != "" {
		replacement = append(replacement, Run{Text: before})
	}
	replacement = append(replacement, token, Run{Text: after})

	tail := append([]Run{}, b.runs[b.cursorRun+1:]...)
	b.runs = append(append(b.runs[:b.cursorRun], replacement...), tail...)

	// Cursor lands just past the NBSP that follows the token.
	b.cursorRun = b.cursorRun + len(replacement) - 1
	b.cursorOff = 1
	return true
}

// Plain renders the buffer as persisted content: tokens become literal
// "@Display" text. This is what gets submitted to the store; the token
// objects exist only while composing.
func (b *Buffer) Plain() string {
	var sb strings.Builder
	for _, run := range b.runs {
		if run.isText() {
			sb.WriteString(run.Text)
			continue
		}
		sb.WriteByte('@')
		sb.WriteString(run.Token.Display)
	}
	return sb.String()
}
