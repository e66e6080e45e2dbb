// Package mcpserver exposes the knowledge base to LLM clients as MCP tools
// over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/content"
	"github.com/starford/tessera/internal/kb"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/vault"
)

// Server wraps the MCP server with the knowledge-base tools.
type Server struct {
	mcp      *server.MCPServer
	kb       *kb.Store
	handlers map[string]server.ToolHandlerFunc
}

// New creates an MCP server with every tool and resource registered.
func New(store *kb.Store, version string) *Server {
	s := &Server{kb: store, handlers: make(map[string]server.ToolHandlerFunc)}

	s.mcp = server.NewMCPServer(
		"Tessera",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.addTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Search documents by title, summary and content. Results are ranked, title matches first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("section", mcp.Description("Restrict to one section slug")),
		mcp.WithNumber("limit", mcp.Description("Max results (default: 20)")),
	), s.searchDocuments)

	s.addTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read a document with its metadata and Markdown body."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("path", mcp.Required(), mcp.Description("Document path, e.g. wiki/guides/install")),
	), s.readDocument)

	s.addTool(mcp.NewTool("upsert_document",
		mcp.WithDescription("Create or replace a document. Content MUST follow the document format: "+
			"read it first via get_document_contract or the "+DocumentFormatURI+" resource. "+
			"Content may carry YAML frontmatter, which becomes the document metadata."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("path", mcp.Required(), mcp.Description("Document path, e.g. wiki/guides/install")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown, optionally with frontmatter")),
		mcp.WithString("title", mcp.Description("Explicit title; overrides frontmatter and headings")),
		mcp.WithBoolean("force", mcp.Description("Overwrite a vault file that was edited by hand")),
	), s.upsertDocument)

	s.addTool(mcp.NewTool("knowledge_tree",
		mcp.WithDescription("Return the section, sub-section and document hierarchy."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.knowledgeTree)

	s.addTool(mcp.NewTool("search_blocks",
		mcp.WithDescription("Find document blocks by text or by tag. Give exactly one of query or tag."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query", mcp.Description("Text to find in block content or headings")),
		mcp.WithString("tag", mcp.Description("Accepted block tag, with or without #")),
		mcp.WithNumber("limit", mcp.Description("Max blocks for text search (default: 50)")),
	), s.searchBlocks)

	s.addTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find the blocks that link to the specified document."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the document to find backlinks for")),
	), s.getBacklinks)

	s.addTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Report sync state of the collection and whether the vault is connected."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.syncStatus)

	s.addTool(mcp.NewTool("get_document_contract",
		mcp.WithDescription("Returns the document format contract. "+
			"Call this before creating or updating documents."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.getDocumentContract)

	s.mcp.AddResource(
		mcp.NewResource(DocumentFormatURI, "Document Format Contract",
			mcp.WithResourceDescription("Path, frontmatter and block conventions every document follows."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDocumentFormatResource,
	)

	return s
}

func (s *Server) addTool(tool mcp.Tool, h server.ToolHandlerFunc) {
	s.handlers[tool.Name] = h
	s.mcp.AddTool(tool, h)
}

// ServeStdio serves MCP on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

func stringArg(req mcp.CallToolRequest, key string) string {
	v, _ := req.GetArguments()[key].(string)
	return v
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits := s.kb.SearchDocuments(ctx, query, content.SearchOptions{
		Limit:   intArg(req, "limit", 20),
		Section: stringArg(req, "section"),
	})
	if len(hits) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no documents found for %q", query)), nil
	}
	return jsonResult(hits), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc := s.kb.GetDocument(ctx, path)
	if doc == nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return jsonResult(doc), nil
}

func (s *Server) upsertDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	meta, body := vault.Decode([]byte(raw))

	res, err := s.kb.UpsertDocument(ctx, content.DocumentInput{
		Path:     path,
		Title:    stringArg(req, "title"),
		Content:  body,
		Metadata: meta,
		Force:    boolArg(req, "force", false),
	})
	switch {
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError(fmt.Sprintf(
			"conflict: %s was edited in the vault since the last sync; read it again or pass force=true", path)), nil
	case err != nil:
		return mcp.NewToolResultError(err.Error()), nil
	}
	verb := "updated"
	if res.Created {
		verb = "created"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s", verb, path)), nil
}

func (s *Server) knowledgeTree(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.kb.GetKnowledgeTree(ctx, nil)), nil
}

func (s *Server) searchBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(stringArg(req, "query"))
	tag := strings.TrimSpace(stringArg(req, "tag"))
	switch {
	case query == "" && tag == "":
		return mcp.NewToolResultError("one of query or tag is required"), nil
	case query != "" && tag != "":
		return mcp.NewToolResultError("give either query or tag, not both"), nil
	case tag != "":
		return jsonResult(s.kb.SearchByBlockTag(ctx, tag)), nil
	default:
		return jsonResult(s.kb.SearchBlocksFullText(ctx, query, intArg(req, "limit", 0))), nil
	}
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	refs := s.kb.Backlinks(ctx, path)
	if len(refs) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	lines := make([]string, 0, len(refs))
	for _, r := range refs {
		line := r.SourcePath + "#" + r.SourceBlockID
		if r.TargetBlockID != "" {
			line += " -> #" + r.TargetBlockID
		}
		lines = append(lines, line)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) syncStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(struct {
		models.SyncStatus
		VaultReady bool `json:"vault_ready"`
	}{s.kb.GetSyncStatus(ctx), s.kb.IsVaultReady()}), nil
}

func (s *Server) getDocumentContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentFormatContract), nil
}

func (s *Server) readDocumentFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      DocumentFormatURI,
			MIMEType: "text/markdown",
			Text:     DocumentFormatContract,
		},
	}, nil
}
