package mention

import "unicode"

// Scan inspects a single text run and a rune-offset cursor within it and
// reports whether the user is mid-typing a mention. A mention is in progress
// iff an '@' occurs at or before the cursor with no whitespace between it and
// the cursor; the query is everything after that '@' up to the cursor. An '@'
// directly under the cursor yields an empty query (show all candidates).
//
// The scanner never looks across runs: callers hand it exactly the run the
// cursor sits in.
func Scan(text string, cursor int) (query string, ok bool) {
	r := []rune(text)
	if cursor < 0 || cursor > len(r) {
		return "", false
	}

	at := -1
	for i := cursor - 1; i >= 0; i-- {
		if r[i] == '@' {
			at = i
			break
		}
	}
	if at == -1 {
		return "", false
	}
	for i := at; i < cursor; i++ {
		if unicode.IsSpace(r[i]) {
			return "", false
		}
	}
	return string(r[at+1 : cursor]), true
}
