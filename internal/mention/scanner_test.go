package mention

import "testing"

func TestScan(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		cursor int
		query  string
		ok     bool
	}{
		{"simple query", "Hello @Al", 9, "Al", true},
		{"at directly under cursor", "Hello @", 7, "", true},
		{"no at sign", "Hello there", 11, "", false},
		{"space between at and cursor", "Hello @Al ice", 13, "", false},
		{"cursor right after space", "@Al ", 4, "", false},
		{"at not at word boundary", "foo@bar", 7, "bar", true},
		{"cursor mid-text", "Hello @Alice", 9, "Al", true},
		{"second at wins", "@a @b", 5, "b", true},
		{"nbsp counts as whitespace", "@a b", 4, "", false},
		{"cursor at zero", "@abc", 0, "", false},
		{"cursor out of range", "abc", 10, "", false},
		{"negative cursor", "abc", -1, "", false},
		{"multibyte query", "よろしく @田中", 8, "田中", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, ok := Scan(tt.text, tt.cursor)
			if ok != tt.ok {
				t.Fatalf("Scan(%q, %d) ok = %v, want %v", tt.text, tt.cursor, ok, tt.ok)
			}
			if query != tt.query {
				t.Errorf("Scan(%q, %d) query = %q, want %q", tt.text, tt.cursor, query, tt.query)
			}
		})
	}
}
