// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes dossier tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/dossier"
)

const formatURI = "dossier://format"

// Server wraps the MCP server with dossier tools.
type Server struct {
	mcp    *server.MCPServer
	engine *dossier.Engine
}

// New creates a new MCP server with all dossier tools registered.
func New(engine *dossier.Engine) *Server {
	s := &Server{engine: engine}

	s.mcp = server.NewMCPServer(
		"Dossier",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("lookup_person",
		mcp.WithDescription("Find a person in a guild by slug, name, alias or a close misspelling."),
		mcp.WithString("guild_id", mcp.Required(), mcp.Description("Guild (community) id")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Name, alias or slug to look up")),
	), s.lookupPerson)

	s.mcp.AddTool(mcp.NewTool("get_dossier",
		mcp.WithDescription("Read a person together with all of their entries."),
		mcp.WithNumber("person_id", mcp.Required(), mcp.Description("Person id")),
	), s.getDossier)

	s.mcp.AddTool(mcp.NewTool("list_persons",
		mcp.WithDescription("List every person kept for a guild."),
		mcp.WithString("guild_id", mcp.Required(), mcp.Description("Guild (community) id")),
	), s.listPersons)

	s.mcp.AddTool(mcp.NewTool("update_summary",
		mcp.WithDescription("Replace a person's summary and sync the pinned starter message. "+
			"Read the dossier://format resource for length limits."),
		mcp.WithNumber("person_id", mcp.Required(), mcp.Description("Person id")),
		mcp.WithString("summary_md", mcp.Required(), mcp.Description("Markdown summary, at most 600 characters")),
		mcp.WithString("updated_by", mcp.Description("Who made the change")),
	), s.updateSummary)

	s.mcp.AddTool(mcp.NewTool("add_entry",
		mcp.WithDescription("Append an entry to a dossier and post it to the person's thread. "+
			"Mentions of other known persons are linked automatically."),
		mcp.WithNumber("person_id", mcp.Required(), mcp.Description("Person id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Entry title, at most 200 characters")),
		mcp.WithString("body_md", mcp.Required(), mcp.Description("Markdown body")),
		mcp.WithString("created_by", mcp.Description("Who wrote the entry")),
	), s.addEntry)

	s.mcp.AddTool(mcp.NewTool("update_entry",
		mcp.WithDescription("Edit an entry. Its message is edited in place, or reposted when it was deleted remotely."),
		mcp.WithNumber("person_id", mcp.Required(), mcp.Description("Person id")),
		mcp.WithNumber("entry_id", mcp.Required(), mcp.Description("Entry id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Entry title, at most 200 characters")),
		mcp.WithString("body_md", mcp.Required(), mcp.Description("Markdown body")),
		mcp.WithString("updated_by", mcp.Description("Who made the change")),
	), s.updateEntry)

	s.mcp.AddTool(mcp.NewTool("refresh_links",
		mcp.WithDescription("Re-render every entry of a person so mention links point at current threads."),
		mcp.WithNumber("person_id", mcp.Required(), mcp.Description("Person id")),
	), s.refreshLinks)

	s.mcp.AddTool(mcp.NewTool("get_dossier_format",
		mcp.WithDescription("Returns the dossier format contract. "+
			"Call this before writing summaries or entries."),
	), s.getFormat)

	// Resource: dossier format contract.
	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Dossier Format Contract",
			mcp.WithResourceDescription("How summaries and entries are rendered and linked."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// idArg extracts a positive id argument. JSON numbers arrive as float64.
func idArg(req mcp.CallToolRequest, key string) (int64, bool) {
	v, ok := req.GetArguments()[key].(float64)
	if !ok || v < 1 || v != float64(int64(v)) {
		return 0, false
	}
	return int64(v), true
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(apperr.Message(err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) lookupPerson(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guildID, err := req.RequireString("guild_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, tier, err := s.engine.Lookup(ctx, guildID, query)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"person": p, "match": tier})
}

func (s *Server) getDossier(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := idArg(req, "person_id")
	if !ok {
		return mcp.NewToolResultError("'person_id' must be a positive integer"), nil
	}
	d, err := s.engine.GetDossier(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(d)
}

func (s *Server) listPersons(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guildID, err := req.RequireString("guild_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	persons, err := s.engine.ListPersons(ctx, guildID)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"persons": persons})
}

func (s *Server) updateSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := idArg(req, "person_id")
	if !ok {
		return mcp.NewToolResultError("'person_id' must be a positive integer"), nil
	}
	summary, err := req.RequireString("summary_md")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.engine.UpdateSummary(ctx, id, summary, req.GetString("updated_by", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"status": "ok", "person": p})
}

func (s *Server) addEntry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := idArg(req, "person_id")
	if !ok {
		return mcp.NewToolResultError("'person_id' must be a positive integer"), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("body_md")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, err := s.engine.CreateEntry(ctx, id, title, body, req.GetString("created_by", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"status": "ok", "entry": entry})
}

func (s *Server) updateEntry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	personID, ok := idArg(req, "person_id")
	if !ok {
		return mcp.NewToolResultError("'person_id' must be a positive integer"), nil
	}
	entryID, ok := idArg(req, "entry_id")
	if !ok {
		return mcp.NewToolResultError("'entry_id' must be a positive integer"), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("body_md")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, reposted, err := s.engine.UpdateEntry(ctx, personID, entryID, title, body, req.GetString("updated_by", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"status": "ok", "entry": entry, "reposted": reposted})
}

func (s *Server) refreshLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := idArg(req, "person_id")
	if !ok {
		return mcp.NewToolResultError("'person_id' must be a positive integer"), nil
	}
	res, err := s.engine.RefreshLinks(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"status": "ok", "updated": res.Updated, "reposted": res.Reposted})
}

func (s *Server) getFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(FormatContract), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     FormatContract,
		},
	}, nil
}
