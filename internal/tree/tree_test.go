package tree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tessera/internal/models"
)

// synthetic builds sections with a deep chain, a wide fan-out and documents
// spread over every level. depths maps sub-section ID to its expected depth.
func synthetic(chain, fan, docsPerNode int) ([]models.Section, []models.Subsection, []models.DocumentSummary, map[string]int) {
	sections := []models.Section{
		{ID: "s-deep", Path: "deep", Name: "Deep", SortOrder: 1},
		{ID: "s-wide", Path: "wide", Name: "Wide", SortOrder: 0},
		{ID: "s-flat", Path: "flat", Name: "Flat", SortOrder: 1},
	}
	var subs []models.Subsection
	depths := map[string]int{}

	parent := ""
	for i := 1; i <= chain; i++ {
		id := fmt.Sprintf("deep-%d", i)
		subs = append(subs, models.Subsection{ID: id, SectionID: "s-deep", ParentID: parent, Path: id, Name: id, Depth: i})
		depths[id] = i
		parent = id
	}
	for i := 0; i < fan; i++ {
		root := fmt.Sprintf("wide-%d", i)
		subs = append(subs, models.Subsection{ID: root, SectionID: "s-wide", Path: root, Name: root, Depth: 1})
		depths[root] = 1
		for j := 0; j < fan; j++ {
			child := fmt.Sprintf("%s-%d", root, j)
			subs = append(subs, models.Subsection{ID: child, SectionID: "s-wide", ParentID: root, Path: child, Name: child, Depth: 2})
			depths[child] = 2
		}
	}

	var docs []models.DocumentSummary
	for _, ss := range subs {
		for k := 0; k < docsPerNode; k++ {
			p := fmt.Sprintf("%s/doc-%d", ss.Path, k)
			docs = append(docs, models.DocumentSummary{ID: p, SectionID: ss.SectionID, SubsectionID: ss.ID, Path: p, Title: p})
		}
	}
	for k := 0; k < docsPerNode; k++ {
		p := fmt.Sprintf("flat/doc-%d", k)
		docs = append(docs, models.DocumentSummary{ID: p, SectionID: "s-flat", Path: p, Title: p})
	}
	return sections, subs, docs, depths
}

func countDocuments(t *Tree) int {
	n := 0
	for _, sec := range t.Sections {
		n += len(sec.Documents)
		stack := append([]*SubsectionNode(nil), sec.Subsections...)
		for len(stack) > 0 {
			ss := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			n += len(ss.Documents)
			stack = append(stack, ss.Subsections...)
		}
	}
	return n
}

func TestBuild_Fidelity(t *testing.T) {
	sections, subs, docs, depths := synthetic(500, 6, 2)
	tr := Build(sections, subs, docs, nil)

	assert.Equal(t, len(docs), countDocuments(tr))
	assert.Equal(t, len(docs), tr.TotalDocuments)
	assert.Equal(t, len(subs), tr.TotalSubsections)

	seen := 0
	for _, sec := range tr.Sections {
		stack := append([]*SubsectionNode(nil), sec.Subsections...)
		for len(stack) > 0 {
			ss := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			seen++
			assert.Equal(t, depths[ss.ID], ss.Depth, ss.ID)
			stack = append(stack, ss.Subsections...)
		}
	}
	assert.Equal(t, len(subs), seen)
}

func TestBuild_Ordering(t *testing.T) {
	sections, subs, docs, _ := synthetic(3, 3, 1)
	tr := Build(sections, subs, docs, nil)

	require.Len(t, tr.Sections, 3)
	assert.Equal(t, []string{"wide", "deep", "flat"}, []string{tr.Sections[0].Path, tr.Sections[1].Path, tr.Sections[2].Path})

	wide := tr.Sections[0]
	require.Len(t, wide.Subsections, 3)
	assert.Equal(t, "wide-0", wide.Subsections[0].ID)
	assert.Equal(t, "wide-2", wide.Subsections[2].ID)
	assert.Equal(t, "wide-1-0", wide.Subsections[1].Subsections[0].ID)
}

func TestBuild_Aggregates(t *testing.T) {
	sections, subs, docs, _ := synthetic(4, 2, 3)
	tr := Build(sections, subs, docs, nil)

	deep := tr.Sections[1]
	require.Equal(t, "deep", deep.Path)
	assert.Equal(t, 12, deep.TotalDocuments)
	assert.Equal(t, 4, deep.TotalSubsections)
	root := deep.Subsections[0]
	assert.Equal(t, 12, root.TotalDocuments)
	assert.Equal(t, 3, root.TotalSubsections)
	leaf := root.Subsections[0].Subsections[0].Subsections[0]
	assert.Equal(t, 3, leaf.TotalDocuments)
	assert.Zero(t, leaf.TotalSubsections)
}

func TestBuild_Orphans(t *testing.T) {
	sections := []models.Section{{ID: "s", Path: "wiki", Name: "Wiki"}}
	subs := []models.Subsection{
		{ID: "a", SectionID: "s", Path: "wiki/a", Name: "A"},
		{ID: "lost", SectionID: "s", ParentID: "gone", Path: "wiki/gone/lost", Name: "Lost"},
		{ID: "x", SectionID: "s", ParentID: "y", Path: "wiki/x", Name: "X"},
		{ID: "y", SectionID: "s", ParentID: "x", Path: "wiki/y", Name: "Y"},
		{ID: "elsewhere", SectionID: "missing", Path: "missing/e", Name: "E"},
	}
	docs := []models.DocumentSummary{
		{ID: "d1", SectionID: "s", SubsectionID: "a", Path: "wiki/a/d1", Title: "D1"},
		{ID: "d2", SectionID: "s", SubsectionID: "vanished", Path: "wiki/vanished/d2", Title: "D2"},
		{ID: "d3", SectionID: "s", SubsectionID: "y", Path: "wiki/y/d3", Title: "D3"},
		{ID: "d4", SectionID: "missing", Path: "missing/d4", Title: "D4"},
	}
	tr := Build(sections, subs, docs, nil)

	require.Len(t, tr.Sections, 1)
	sec := tr.Sections[0]
	require.Len(t, sec.Documents, 1)
	assert.Equal(t, "d2", sec.Documents[0].ID)
	assert.Equal(t, 3, sec.TotalDocuments)
	assert.Equal(t, 4, sec.TotalSubsections)

	names := []string{}
	for _, ss := range sec.Subsections {
		names = append(names, ss.Name)
		assert.Equal(t, 1, ss.Depth)
	}
	assert.ElementsMatch(t, []string{"A", "Lost", "X"}, names)
}

func TestBuild_Progress(t *testing.T) {
	sections, subs, docs, _ := synthetic(2, 2, 1)
	var reports []Progress
	Build(sections, subs, docs, func(p Progress) { reports = append(reports, p) })

	require.Len(t, reports, 3)
	for i, p := range reports {
		assert.Equal(t, i+1, p.SectionsDone)
		assert.Equal(t, 3, p.SectionsTotal)
	}
}

func TestBuild_Empty(t *testing.T) {
	tr := Build(nil, nil, nil, nil)
	assert.NotNil(t, tr.Sections)
	assert.Empty(t, tr.Sections)
	assert.Zero(t, tr.TotalDocuments)
}
