package mention

import "teamboard/api/internal/store"

// Composer ties a Buffer to a live candidate list: after every edit the
// buffer is re-scanned, the candidate list re-resolved, and the selection
// index reset whenever the filtered set changes. This is the state a
// rendering adapter drives from input and key events.
type Composer struct {
	Buffer *Buffer

	people    []store.Profile
	tags      []store.Tag
	teamScope *int64

	open       bool
	query      string
	candidates []Candidate
	active     int
}

func NewComposer(buf *Buffer, people []store.Profile, tags []store.Tag, teamScope *int64) *Composer {
	return &Composer{Buffer: buf, people: people, tags: tags, teamScope: teamScope}
}

func (c *Composer) Open() bool              { return c.open }
func (c *Composer) Query() string           { return c.query }
func (c *Composer) Candidates() []Candidate { return c.candidates }
func (c *Composer) ActiveIndex() int        { return c.active }

// Refresh re-scans the buffer at its current cursor. Call after any edit or
// cursor move.
func (c *Composer) Refresh() {
	query, ok := c.Buffer.Scan()
	if !ok {
		c.Close()
		return
	}
	wasQuery, wasOpen := c.query, c.open
	c.open = true
	c.query = query
	c.candidates = Resolve(query, c.people, c.tags, c.teamScope)
	if !wasOpen || wasQuery != query {
		c.active = 0
	}
	if c.active >= len(c.candidates) {
		c.active = 0
	}
}

// Move shifts the selection by delta, wrapping around the candidate list.
func (c *Composer) Move(delta int) {
	n := len(c.candidates)
	if !c.open || n == 0 {
		return
	}
	c.active = ((c.active+delta)%n + n) % n
}

// Select inserts the active candidate at the cursor and closes the list. A
// failed insertion (cursor no longer in a text run) is silent: the list just
// closes, matching the recoverable no-op contract of the inserter.
func (c *Composer) Select() bool {
	if !c.open || c.active >= len(c.candidates) {
		return false
	}
	inserted := c.Buffer.InsertMention(c.candidates[c.active])
	c.Close()
	return inserted
}

func (c *Composer) Close() {
	c.open = false
	c.query = ""
	c.candidates = nil
	c.active = 0
}
