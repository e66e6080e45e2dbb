// Package parser extracts frontmatter, wikilinks, tags and heading-delimited
// blocks from Markdown content.
package parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

const fence = "---"

// SplitFrontmatter separates a leading ----delimited frontmatter block from
// the body. Exactly one blank line after the closing fence is consumed, so a
// body written after "---\n\n" is recovered byte for byte. ok is false when
// the data has no frontmatter; body is then the whole input.
func SplitFrontmatter(data []byte) (front []byte, body string, ok bool) {
	s := string(data)
	if !strings.HasPrefix(s, fence+"\n") && !strings.HasPrefix(s, fence+"\r\n") {
		return nil, s, false
	}
	rest := s[strings.Index(s, "\n")+1:]

	var end int
	switch {
	case strings.HasPrefix(rest, fence+"\n"), rest == fence:
		end = 0
	default:
		idx := strings.Index(rest, "\n"+fence+"\n")
		if idx < 0 {
			if strings.HasSuffix(rest, "\n"+fence) {
				idx = len(rest) - len(fence) - 1
			} else {
				return nil, s, false
			}
		}
		end = idx + 1
	}

	front = []byte(rest[:end])
	after := rest[end+len(fence):]
	after = strings.TrimPrefix(after, "\n")
	after = strings.TrimPrefix(after, "\r\n")
	after = strings.TrimPrefix(after, "\n")
	return front, after, true
}

// Links returns deduplicated wikilink targets, normalising aliases and
// dropping block anchors.
func Links(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := m[1]
		// [[Target|Alias]] → Target.
		if i := strings.Index(target, "|"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// SplitAnchor splits "doc#block" into its document and block parts.
func SplitAnchor(target string) (doc, block string) {
	doc, block, _ = strings.Cut(target, "#")
	return strings.TrimSpace(doc), strings.TrimSpace(block)
}

// InlineTags returns the deduplicated #tags found in body.
func InlineTags(body string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		t := strings.ToLower(m[1])
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Title returns the first H1 heading of body, or "".
func Title(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// WordCount counts whitespace-separated words.
func WordCount(body string) int {
	return len(strings.Fields(body))
}

// Slugify lowercases s and joins its letter/digit runs with hyphens.
func Slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// Humanize turns a slug such as "getting-started" into "Getting Started".
func Humanize(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

// Snippet returns up to radius runes either side of the first
// case-insensitive occurrence of query in text, with ellipses where text was
// cut. ok is false when query does not occur.
func Snippet(text, query string, radius int) (snippet string, ok bool) {
	q := strings.ToLower(query)
	lower := strings.ToLower(text)
	idx := strings.Index(lower, q)
	if q == "" || idx < 0 {
		return "", false
	}
	// ToLower maps rune to rune, so rune offsets agree between the two.
	start := utf8.RuneCountInString(lower[:idx])
	runes := []rune(text)
	from := max(0, start-radius)
	to := min(len(runes), start+utf8.RuneCountInString(q)+radius)

	var b strings.Builder
	if from > 0 {
		b.WriteString("…")
	}
	b.WriteString(strings.TrimSpace(string(runes[from:to])))
	if to < len(runes) {
		b.WriteString("…")
	}
	return b.String(), true
}
