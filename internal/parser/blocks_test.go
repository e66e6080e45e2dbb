package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `Opening line before any heading.

# Overview

Graphs connect ideas. They are everywhere. #graphs

## Setup

- install the tool
- run it with graphs enabled

## Setup

` + "```go" + `
# not a heading inside code
fmt.Println("hi")
` + "```" + `

### Links

See [[wiki/other]] and [[wiki/deep#part]].
`

func TestSplitBlocks_Boundaries(t *testing.T) {
	blocks := SplitBlocks("wiki/doc", sampleDoc, nil)
	require.Len(t, blocks, 5)

	ids := []string{"intro", "overview", "setup", "setup-2", "links"}
	for i, id := range ids {
		assert.Equal(t, id, blocks[i].BlockID)
	}

	assert.Equal(t, 0, blocks[0].HeadingLevel)
	assert.Equal(t, 1, blocks[0].StartLine)
	assert.Equal(t, 1, blocks[0].EndLine)

	assert.Equal(t, 1, blocks[1].HeadingLevel)
	assert.Equal(t, "Overview", blocks[1].HeadingText)
	assert.Equal(t, 3, blocks[1].StartLine)
	assert.Equal(t, 5, blocks[1].EndLine)

	assert.Equal(t, BlockList, blocks[2].BlockType)
	assert.Equal(t, BlockCode, blocks[3].BlockType)
	assert.Equal(t, 3, blocks[4].HeadingLevel)
}

func TestSplitBlocks_CodeFenceHidesHeadings(t *testing.T) {
	blocks := SplitBlocks("wiki/doc", sampleDoc, nil)
	for _, b := range blocks {
		assert.NotEqual(t, "not-a-heading-inside-code", b.BlockID)
	}
}

func TestSplitBlocks_TagsSummaryReferences(t *testing.T) {
	blocks := SplitBlocks("wiki/doc", sampleDoc, nil)
	overview := blocks[1]
	assert.Equal(t, []string{"graphs"}, overview.Tags)
	assert.Equal(t, "Graphs connect ideas.", overview.Summary)

	links := blocks[4]
	assert.Equal(t, []string{"wiki/other", "wiki/deep#part"}, links.References)
}

func TestSplitBlocks_SuggestedTags(t *testing.T) {
	blocks := SplitBlocks("wiki/doc", sampleDoc, []string{"graphs", "tooling"})
	setup := blocks[2]
	require.Len(t, setup.SuggestedTags, 1)
	assert.Equal(t, "graphs", setup.SuggestedTags[0].Tag)
	assert.Equal(t, "frequency", setup.SuggestedTags[0].Source)
	assert.InDelta(t, 0.65, setup.SuggestedTags[0].Confidence, 1e-9)

	// Already accepted inline, so not suggested again.
	assert.Empty(t, blocks[1].SuggestedTags)
}

func TestSplitBlocks_WorthinessInRange(t *testing.T) {
	for _, b := range SplitBlocks("wiki/doc", sampleDoc, []string{"graphs"}) {
		assert.GreaterOrEqual(t, b.WorthinessScore, 0.0)
		assert.LessOrEqual(t, b.WorthinessScore, 1.0)
	}
}

func TestSplitBlocks_HeadingFirstLineHasNoIntro(t *testing.T) {
	blocks := SplitBlocks("wiki/doc", "# Title\nbody", nil)
	require.Len(t, blocks, 1)
	assert.Equal(t, "title", blocks[0].BlockID)
}

func TestSummarize_Truncates(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "word "
	}
	s := Summarize(long)
	assert.LessOrEqual(t, len([]rune(s)), 200)
}
