// Package tree assembles the nested knowledge hierarchy from flat table
// scans.
package tree

import (
	"sort"
	"time"

	"github.com/starford/tessera/internal/models"
)

// Tree is the root of the knowledge hierarchy.
type Tree struct {
	Sections         []*SectionNode `json:"sections"`
	TotalDocuments   int            `json:"total_documents"`
	TotalSubsections int            `json:"total_subsections"`
}

// SectionNode is a section with its nested sub-sections and the documents
// attached to it directly.
type SectionNode struct {
	ID               string            `json:"id"`
	Path             string            `json:"path"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	SortOrder        int               `json:"sort_order"`
	Subsections      []*SubsectionNode `json:"subsections"`
	Documents        []DocumentNode    `json:"documents"`
	TotalDocuments   int               `json:"total_documents"`
	TotalSubsections int               `json:"total_subsections"`
}

// SubsectionNode is a sub-section with its children. Depth is its distance
// from the section, roots being 1.
type SubsectionNode struct {
	ID               string            `json:"id"`
	Path             string            `json:"path"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Depth            int               `json:"depth"`
	SortOrder        int               `json:"sort_order"`
	Subsections      []*SubsectionNode `json:"subsections"`
	Documents        []DocumentNode    `json:"documents"`
	TotalDocuments   int               `json:"total_documents"`
	TotalSubsections int               `json:"total_subsections"`

	sectionID string
	parentID  string
}

// DocumentNode is a document leaf (metadata only, no content).
type DocumentNode struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Slug       string    `json:"slug"`
	Title      string    `json:"title"`
	WordCount  int       `json:"word_count"`
	Difficulty string    `json:"difficulty,omitempty"`
	Status     string    `json:"status,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Progress is reported after each section is assembled.
type Progress struct {
	Section       string
	SectionsDone  int
	SectionsTotal int
}

// Build nests the flat rows without querying anything. Sub-sections whose
// parent is missing become roots of their section; documents whose
// sub-section is missing attach to their section. Rows belonging to an
// unknown section are dropped.
func Build(sections []models.Section, subsections []models.Subsection, documents []models.DocumentSummary, progress func(Progress)) *Tree {
	known := make(map[string]*SubsectionNode, len(subsections))
	for _, ss := range subsections {
		known[ss.ID] = &SubsectionNode{
			ID:          ss.ID,
			Path:        ss.Path,
			Name:        ss.Name,
			Description: ss.Description,
			SortOrder:   ss.SortOrder,
			Subsections: []*SubsectionNode{},
			Documents:   []DocumentNode{},
			sectionID:   ss.SectionID,
			parentID:    ss.ParentID,
		}
	}

	// Children by parent sub-section, roots and strays by section.
	children := make(map[string][]*SubsectionNode)
	bySection := make(map[string][]*SubsectionNode)
	for _, n := range known {
		bySection[n.sectionID] = append(bySection[n.sectionID], n)
		if parent, ok := known[n.parentID]; ok && parent.sectionID == n.sectionID && n.parentID != n.ID {
			children[n.parentID] = append(children[n.parentID], n)
		}
	}
	for _, list := range children {
		sortSubsections(list)
	}
	for _, list := range bySection {
		sortSubsections(list)
	}

	sectionDocs := make(map[string][]DocumentNode)
	for _, d := range documents {
		node := DocumentNode{
			ID:         d.ID,
			Path:       d.Path,
			Slug:       d.Slug,
			Title:      d.Title,
			WordCount:  d.WordCount,
			Difficulty: d.Difficulty,
			Status:     d.Status,
			UpdatedAt:  d.UpdatedAt,
		}
		if ss, ok := known[d.SubsectionID]; ok && ss.sectionID == d.SectionID {
			ss.Documents = append(ss.Documents, node)
			continue
		}
		sectionDocs[d.SectionID] = append(sectionDocs[d.SectionID], node)
	}

	ordered := append([]models.Section(nil), sections...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SortOrder != ordered[j].SortOrder {
			return ordered[i].SortOrder < ordered[j].SortOrder
		}
		return ordered[i].Name < ordered[j].Name
	})

	t := &Tree{Sections: make([]*SectionNode, 0, len(ordered))}
	visited := make(map[string]bool, len(known))
	for i, sec := range ordered {
		node := &SectionNode{
			ID:          sec.ID,
			Path:        sec.Path,
			Name:        sec.Name,
			Description: sec.Description,
			SortOrder:   sec.SortOrder,
			Subsections: []*SubsectionNode{},
			Documents:   sectionDocs[sec.ID],
		}
		if node.Documents == nil {
			node.Documents = []DocumentNode{}
		}
		sortDocuments(node.Documents)
		assemble(node, bySection[sec.ID], children, known, visited)

		t.Sections = append(t.Sections, node)
		t.TotalDocuments += node.TotalDocuments
		t.TotalSubsections += node.TotalSubsections
		if progress != nil {
			progress(Progress{Section: sec.Path, SectionsDone: i + 1, SectionsTotal: len(ordered)})
		}
	}
	return t
}

// assemble attaches a section's sub-sections with an explicit stack and
// fills the aggregate counts in a post-order pass over the visit order.
func assemble(sec *SectionNode, candidates []*SubsectionNode, children map[string][]*SubsectionNode, known map[string]*SubsectionNode, visited map[string]bool) {
	var order []*SubsectionNode
	walk := func(root *SubsectionNode) {
		root.Depth = 1
		visited[root.ID] = true
		stack := []*SubsectionNode{root}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			order = append(order, n)
			sortDocuments(n.Documents)
			for _, c := range children[n.ID] {
				if visited[c.ID] {
					continue
				}
				visited[c.ID] = true
				c.Depth = n.Depth + 1
				n.Subsections = append(n.Subsections, c)
				stack = append(stack, c)
			}
		}
	}

	// Proper roots first, then anything a broken parent chain left
	// unreachable.
	for _, c := range candidates {
		if _, hasParent := known[c.parentID]; hasParent && known[c.parentID].sectionID == sec.ID && c.parentID != c.ID {
			continue
		}
		sec.Subsections = append(sec.Subsections, c)
		walk(c)
	}
	for _, c := range candidates {
		if !visited[c.ID] {
			sec.Subsections = append(sec.Subsections, c)
			walk(c)
		}
	}
	sortSubsections(sec.Subsections)

	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		n.TotalDocuments = len(n.Documents)
		n.TotalSubsections = len(n.Subsections)
		for _, c := range n.Subsections {
			n.TotalDocuments += c.TotalDocuments
			n.TotalSubsections += c.TotalSubsections
		}
	}
	sec.TotalDocuments = len(sec.Documents)
	sec.TotalSubsections = len(sec.Subsections)
	for _, c := range sec.Subsections {
		sec.TotalDocuments += c.TotalDocuments
		sec.TotalSubsections += c.TotalSubsections
	}
}

func sortSubsections(list []*SubsectionNode) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].SortOrder != list[j].SortOrder {
			return list[i].SortOrder < list[j].SortOrder
		}
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].Path < list[j].Path
	})
}

func sortDocuments(list []DocumentNode) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Title != list[j].Title {
			return list[i].Title < list[j].Title
		}
		return list[i].Path < list[j].Path
	})
}
