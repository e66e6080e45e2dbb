package mcpserver

// DocumentFormatURI addresses the document format resource.
const DocumentFormatURI = "tessera://document-format"

// DocumentFormatContract describes the document format that LLM consumers
// should follow when creating or updating documents.
const DocumentFormatContract = `# Tessera Document Format

Documents are addressed by a logical path and stored as Markdown files with
YAML frontmatter in the vault.

## Paths

- A path is lowercase, slash-separated segments of ` + "`" + `a-z 0-9 - _` + "`" + `, each
  starting with a letter or digit.
- The first segment is the section, the last is the document slug, anything in
  between is the sub-section chain: ` + "`" + `wiki/guides/setup/install` + "`" + `.
- A document needs at least a section and a slug.
- In the vault the path maps to
  ` + "`" + `sections/<section>/subsections/<sub>/.../documents/<slug>.md` + "`" + `.

## Frontmatter

` + "```" + `markdown
---
title: Installing the CLI      # optional; falls back to the first H1, then the slug
difficulty: beginner           # optional
status: draft                  # optional
summary: One-line abstract     # optional
subjects: [tooling]            # optional lists
topics: [cli]
tags: [setup, cli]
prerequisites: [wiki/basics]
references: [https://example.com]
---

# Installing the CLI

Body text in standard Markdown.
` + "```" + `

Unknown keys are kept and written back in sorted order.

## Blocks

- Every heading starts a block; text before the first heading is the
  ` + "`" + `intro` + "`" + ` block. The block ID is the slugified heading.
- Inline ` + "`" + `#tags` + "`" + ` inside a block become that block's tags.
- Document tags that appear in a block's text are proposed as suggestions.
- ` + "`" + `[[wiki/other]]` + "`" + ` links to a document and ` + "`" + `[[wiki/other#usage]]` + "`" + ` to one
  of its blocks. Links are reported as backlinks of the target.

## Rules

1. Files are UTF-8.
2. Frontmatter keys are English; values and body may use any language.
3. Editing a vault file by hand is allowed. An API write over such an edit is
   refused as a conflict unless forced.
`
