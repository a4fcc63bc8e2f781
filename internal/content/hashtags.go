package content

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/young1lin/research2post/internal/platform"
)

const tagSeparator = "\n\n"

var (
	hashtagRE   = regexp.MustCompile(`(^|\s)#\S+`)
	spaceRunRE  = regexp.MustCompile(`[ \t]{2,}`)
	lineEdgeRE  = regexp.MustCompile(`(?m)^[ \t]+|[ \t]+$`)
	blankRunRE  = regexp.MustCompile(`\n{3,}`)
	tagTrimming = ".,;:!?)\"'"
)

// ExtractHashtags returns the distinct hashtags of text in order of first
// appearance. Comparison ignores case and trailing punctuation.
func ExtractHashtags(text string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, m := range hashtagRE.FindAllString(text, -1) {
		tag := strings.TrimRight(strings.TrimSpace(m), tagTrimming)
		if utf8.RuneCountInString(tag) < 2 {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, tag)
	}
	return tags
}

// StripHashtags removes hashtag tokens and tidies the whitespace they leave.
func StripHashtags(text string) string {
	out := hashtagRE.ReplaceAllString(text, "$1")
	out = spaceRunRE.ReplaceAllString(out, " ")
	out = lineEdgeRE.ReplaceAllString(out, "")
	out = blankRunRE.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// ApplyHashtags moves every hashtag of text into one trailing block, bounded
// by the policy, and keeps the result within lim.Budget. Policies that do not
// always append drop the block when it does not fit; the others shorten the
// body to make room, and drop tags only when even an ellipsis would not fit.
func ApplyHashtags(text string, policy platform.HashtagPolicy, lim Limits) string {
	tags := ExtractHashtags(text)
	stripped := StripHashtags(text)
	body := lim.Truncate(stripped)
	if policy.Max <= 0 || len(tags) == 0 {
		return body
	}
	if len(tags) > policy.Max {
		tags = tags[:policy.Max]
	}

	if out := joinTags(body, tags); utf8.RuneCountInString(out) <= lim.Budget {
		return out
	}
	if !policy.AlwaysAppend {
		return body
	}

	for ; len(tags) > 0; tags = tags[:len(tags)-1] {
		block := strings.Join(tags, " ")
		if stripped == "" {
			if utf8.RuneCountInString(block) <= lim.Budget {
				return block
			}
			continue
		}
		room := lim.Budget - utf8.RuneCountInString(block) - len(tagSeparator)
		if room > len(ellipsis) {
			return joinTags(lim.within(room, stripped), tags)
		}
	}
	return body
}

func joinTags(body string, tags []string) string {
	block := strings.Join(tags, " ")
	if body == "" {
		return block
	}
	return body + tagSeparator + block
}
