package textutil

import "testing"

func TestCleanText(t *testing.T) {
	cases := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"empty", "   ", 0, ""},
		{"collapses whitespace", "  client \n\t refused  ", 0, "client refused"},
		{"strips markup", "<b>casse</b> <script>alert(1)</script>transport", 0, "casse transport"},
		{"keeps entities readable", "Fournisseur: A &amp; B", 0, "Fournisseur: A & B"},
		{"normalises to NFC", "Re\u0301ception", 0, "R\u00e9ception"},
		{"caps runes", "abcdef", 4, "abcd"},
		{"drops controls", "ab\x00c", 0, "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanText(tc.input, tc.max); got != tc.want {
				t.Fatalf("CleanText(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestRuneLen(t *testing.T) {
	if got := RuneLen("e\u0301te\u0301"); got != 3 {
		t.Fatalf("expected 3 runes after composition, got %d", got)
	}
}
