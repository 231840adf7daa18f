package tts

import (
	"regexp"
	"strings"
)

var (
	markdownChars = regexp.MustCompile("[*#_`~-]")
	bracketed     = regexp.MustCompile(`\[.*?\]`)
)

// CleanForSpeech strips markdown and control characters so the text is
// speakable: no emphasis markers or bracketed segments reach the synthesizer,
// and newlines become sentence breaks.
func CleanForSpeech(text string) string {
	out := bracketed.ReplaceAllString(text, "")
	out = markdownChars.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\n", ". ")
	return strings.TrimSpace(out)
}
