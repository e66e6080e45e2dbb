package parser

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/starford/tessera/internal/models"
)

// Block types.
const (
	BlockHeading   = "heading"
	BlockParagraph = "paragraph"
	BlockList      = "list"
	BlockCode      = "code"
)

const (
	introBlockID     = "intro"
	maxSummaryRunes  = 200
	suggestionSource = "frequency"
	suggestionBase   = 0.5
	suggestionPerHit = 0.15
)

var (
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	listItemRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	sentenceRe = regexp.MustCompile(`^(.+?[.!?])(?:\s|$)`)
	inlineMdRe = regexp.MustCompile("[*_`>]+|\\[\\[|\\]\\]")
)

type rawBlock struct {
	level   int
	heading string
	start   int // 0-based line index, inclusive
	end     int // 0-based line index, inclusive
}

// SplitBlocks cuts body into heading-delimited blocks. Text before the first
// heading becomes the "intro" block when it is not blank. docTags are the
// document-level tags used to propose per-block tag suggestions.
func SplitBlocks(documentPath, body string, docTags []string) []models.Block {
	lines := strings.Split(body, "\n")

	var raws []rawBlock
	cur := rawBlock{start: 0}
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if i > cur.start || cur.level > 0 {
			cur.end = i - 1
			raws = append(raws, cur)
		}
		cur = rawBlock{level: len(m[1]), heading: strings.TrimSpace(m[2]), start: i}
	}
	cur.end = len(lines) - 1
	raws = append(raws, cur)

	ids := make(map[string]int)
	out := make([]models.Block, 0, len(raws))
	for _, rb := range raws {
		end := rb.end
		for end > rb.start && strings.TrimSpace(lines[end]) == "" {
			end--
		}
		content := strings.Join(lines[rb.start:end+1], "\n")
		if rb.level == 0 && strings.TrimSpace(content) == "" {
			continue
		}

		id := Slugify(rb.heading)
		if rb.level == 0 {
			id = introBlockID
		}
		if id == "" {
			id = fmt.Sprintf("block-%d", len(out)+1)
		}
		ids[id]++
		if n := ids[id]; n > 1 {
			id = fmt.Sprintf("%s-%d", id, n)
		}

		tags := InlineTags(content)
		b := models.Block{
			DocumentPath: documentPath,
			BlockID:      id,
			BlockType:    classify(lines[rb.start:end+1], rb.level > 0),
			HeadingLevel: rb.level,
			HeadingText:  rb.heading,
			StartLine:    rb.start + 1,
			EndLine:      end + 1,
			Content:      content,
			Summary:      Summarize(content),
			Tags:         nonNil(tags),
			References:   Links(content),
		}
		b.SuggestedTags = suggestTags(content, tags, docTags)
		b.WorthinessScore = worthiness(b)
		out = append(out, b)
	}
	return out
}

func classify(lines []string, hasHeading bool) string {
	var text, items int
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if hasHeading && i == 0 {
			continue
		}
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			return BlockCode
		}
		text++
		if listItemRe.MatchString(line) {
			items++
		}
	}
	switch {
	case text == 0 && hasHeading:
		return BlockHeading
	case items > 0 && items*2 >= text:
		return BlockList
	default:
		return BlockParagraph
	}
}

// Summarize returns the first sentence of the prose in content, without
// headings, code or Markdown markers, capped at 200 runes.
func Summarize(content string) string {
	var prose []string
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed == "" || headingRe.MatchString(trimmed) {
			continue
		}
		trimmed = listItemRe.ReplaceAllString(trimmed, "")
		prose = append(prose, strings.TrimSpace(inlineMdRe.ReplaceAllString(trimmed, "")))
	}
	text := strings.Join(strings.Fields(strings.Join(prose, " ")), " ")
	if m := sentenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if utf8.RuneCountInString(text) > maxSummaryRunes {
		r := []rune(text)
		text = strings.TrimSpace(string(r[:maxSummaryRunes-1])) + "…"
	}
	return text
}

func suggestTags(content string, accepted, docTags []string) []models.SuggestedTag {
	have := make(map[string]struct{}, len(accepted))
	for _, t := range accepted {
		have[t] = struct{}{}
	}
	lower := strings.ToLower(content)
	out := []models.SuggestedTag{}
	for _, tag := range docTags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := have[tag]; ok {
			continue
		}
		hits := strings.Count(lower, strings.ReplaceAll(tag, "-", " "))
		if strings.Contains(tag, "-") {
			hits += strings.Count(lower, tag)
		}
		if hits == 0 {
			continue
		}
		conf := math.Min(1, suggestionBase+suggestionPerHit*float64(hits))
		out = append(out, models.SuggestedTag{Tag: tag, Confidence: round3(conf), Source: suggestionSource})
		have[tag] = struct{}{}
	}
	return out
}

// worthiness estimates, in 0..1, whether a block merits enrichment such as an
// illustration: substantial prose under a prominent heading scores highest.
func worthiness(b models.Block) float64 {
	words := WordCount(b.Content)
	score := 0.4 * math.Min(float64(words)/150, 1)
	if b.HeadingLevel > 0 && b.HeadingLevel <= 2 {
		score += 0.15
	}
	if len(b.Tags) > 0 {
		score += 0.15
	}
	if len(b.References) > 0 {
		score += 0.1
	}
	if b.BlockType == BlockParagraph || b.BlockType == BlockList {
		score += 0.2
	}
	return round3(math.Max(0, math.Min(1, score)))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
