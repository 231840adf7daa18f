package tts

import "testing"

func TestCleanForSpeech(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"**bold** and _italic_", "bold and italic"},
		{"[CODE SUBMISSION]: check this", ": check this"},
		{"line one\nline two", "line one. line two"},
		{"# Heading\n- item", "Heading.  item"},
		{"plain sentence.", "plain sentence."},
		{"  padded  ", "padded"},
	}
	for _, tc := range cases {
		if got := CleanForSpeech(tc.in); got != tc.want {
			t.Fatalf("CleanForSpeech(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
