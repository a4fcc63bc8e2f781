// Package content turns generated research text into a platform-ready post.
package content

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

type rule struct {
	name    string
	pattern *regexp.Regexp
	repl    string
}

// Order matters: fenced code before inline code, images before links, and
// emphasis before the escape-character rule that would eat its markers.
var rules = []rule{
	{"code_fence", regexp.MustCompile("(?s)```[\\w+-]*\\n?(.*?)```"), "$1"},
	{"inline_code", regexp.MustCompile("`([^`\\n]*)`"), "$1"},
	{"image", regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`), ""},
	{"link", regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`), "$1"},
	{"bold", regexp.MustCompile(`(?s)\*\*(.*?)\*\*`), "$1"},
	{"bold_underscore", regexp.MustCompile(`(?s)__(.*?)__`), "$1"},
	{"italic", regexp.MustCompile(`\*([^*\n]+)\*`), "$1"},
	{"header", regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+`), ""},
	{"html_tag", regexp.MustCompile(`<[^>\n]*>`), ""},
	{"entity", regexp.MustCompile(`&(?:[a-zA-Z]+|#[0-9]+);`), ""},
	{"escape", regexp.MustCompile(`[\\_~>]`), ""},
	{"trailing_space", regexp.MustCompile(`(?m)[ \t]+$`), ""},
	{"blank_lines", regexp.MustCompile(`\n{3,}`), "\n\n"},
}

// Sanitize strips markdown and HTML formatting and returns NFC text. Every
// rule only removes characters, so repeating the rule set until nothing
// changes terminates, and the fixed point makes Sanitize idempotent.
func Sanitize(text string) string {
	out := norm.NFC.String(text)
	for {
		next := out
		for _, r := range rules {
			next = r.pattern.ReplaceAllString(next, r.repl)
		}
		next = norm.NFC.String(strings.TrimSpace(next))
		if next == out {
			return out
		}
		out = next
	}
}

// Length counts code points of the NFC form, which is how both platforms
// measure posts.
func Length(text string) int {
	return utf8.RuneCountInString(norm.NFC.String(text))
}
