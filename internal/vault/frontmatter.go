package vault

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/parser"
)

var (
	plainRe    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _./-]*$`)
	reservedRe = regexp.MustCompile(`^(?i:true|false|yes|no|on|off|null|y|n)$`)
	knownKeys  = map[string]bool{
		"title": true, "difficulty": true, "status": true, "summary": true,
		"subjects": true, "topics": true, "tags": true, "prerequisites": true,
		"references": true,
	}
)

// Encode serializes metadata and body into a frontmatter-prefixed Markdown
// file. Keys are emitted in a fixed order and empty fields are omitted, so
// equal inputs always produce identical bytes.
func Encode(meta models.DocumentMetadata, body string) []byte {
	var b strings.Builder
	b.WriteString("---\n")
	scalar(&b, "title", meta.Title)
	scalar(&b, "difficulty", meta.Difficulty)
	scalar(&b, "status", meta.Status)
	scalar(&b, "summary", meta.Summary)
	list(&b, "subjects", meta.Subjects)
	list(&b, "topics", meta.Topics)
	list(&b, "tags", meta.Tags)
	list(&b, "prerequisites", meta.Prerequisites)
	list(&b, "references", meta.References)

	keys := make([]string, 0, len(meta.Extra))
	for k := range meta.Extra {
		if !knownKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		extra(&b, k, meta.Extra[k], "")
	}
	b.WriteString("---\n\n")
	b.WriteString(body)
	return []byte(b.String())
}

func scalar(b *strings.Builder, key, v string) {
	if v == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", key, strconv.Quote(v))
}

func list(b *strings.Builder, key string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: [%s]\n", key, joinItems(items))
}

func joinItems(items []string) string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = item(it)
	}
	return strings.Join(out, ", ")
}

func item(s string) string {
	if plainRe.MatchString(s) && !reservedRe.MatchString(s) && strings.TrimSpace(s) == s {
		return s
	}
	return strconv.Quote(s)
}

// extra writes a free-form key. Nested maps are flattened one level with
// two-space-indented sub-keys.
func extra(b *strings.Builder, key string, v any, indent string) {
	switch val := v.(type) {
	case nil:
		return
	case string:
		fmt.Fprintf(b, "%s%s: %s\n", indent, key, strconv.Quote(val))
	case bool:
		fmt.Fprintf(b, "%s%s: %t\n", indent, key, val)
	case int:
		fmt.Fprintf(b, "%s%s: %d\n", indent, key, val)
	case int64:
		fmt.Fprintf(b, "%s%s: %d\n", indent, key, val)
	case float64:
		fmt.Fprintf(b, "%s%s: %s\n", indent, key, strconv.FormatFloat(val, 'f', -1, 64))
	case []string:
		fmt.Fprintf(b, "%s%s: [%s]\n", indent, key, joinItems(val))
	case []any:
		fmt.Fprintf(b, "%s%s: [%s]\n", indent, key, joinItems(toStrings(val)))
	case map[string]any:
		if indent != "" {
			fmt.Fprintf(b, "%s%s: %s\n", indent, key, strconv.Quote(fmt.Sprint(val)))
			return
		}
		fmt.Fprintf(b, "%s:\n", key)
		sub := make([]string, 0, len(val))
		for k := range val {
			sub = append(sub, k)
		}
		sort.Strings(sub)
		for _, k := range sub {
			extra(b, k, val[k], "  ")
		}
	default:
		fmt.Fprintf(b, "%s%s: %s\n", indent, key, strconv.Quote(fmt.Sprint(val)))
	}
}

// Decode parses a vault file into metadata and body. A file without
// frontmatter, or with frontmatter that is not valid YAML, is returned whole
// as the body.
func Decode(data []byte) (models.DocumentMetadata, string) {
	front, body, ok := parser.SplitFrontmatter(data)
	if !ok {
		return models.DocumentMetadata{}, body
	}
	var fm map[string]any
	if err := yaml.Unmarshal(front, &fm); err != nil {
		return models.DocumentMetadata{}, string(data)
	}

	meta := models.DocumentMetadata{
		Title:         str(fm["title"]),
		Difficulty:    str(fm["difficulty"]),
		Status:        str(fm["status"]),
		Summary:       str(fm["summary"]),
		Subjects:      strs(fm["subjects"]),
		Topics:        strs(fm["topics"]),
		Tags:          strs(fm["tags"]),
		Prerequisites: strs(fm["prerequisites"]),
		References:    strs(fm["references"]),
	}
	for k, v := range fm {
		if knownKeys[k] {
			continue
		}
		if meta.Extra == nil {
			meta.Extra = make(map[string]any)
		}
		meta.Extra[k] = v
	}
	return meta, body
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func strs(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return toStrings(val)
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	default:
		return []string{fmt.Sprint(val)}
	}
}

func toStrings(items []any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, str(it))
	}
	return out
}
