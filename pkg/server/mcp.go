package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/deep-research/pkg/store"
)

const mcpServerName = "deep-research-mcp"

// StartResearchArgs are the arguments of the start_research tool.
type StartResearchArgs struct {
	Query             string `json:"query" jsonschema:"The research question, at most 500 characters."`
	Model             string `json:"model,omitempty" jsonschema:"Model for query generation and the report."`
	SearchModel       string `json:"search_model,omitempty" jsonschema:"Model for distilling search results. Defaults to model."`
	MaxSearches       *int   `json:"max_searches,omitempty" jsonschema:"Maximum number of web searches."`
	CustomRequirement string `json:"custom_requirement,omitempty" jsonschema:"Extra writing instructions for the report."`
}

type GetResearchArgs struct {
	ID string `json:"id" jsonschema:"The research id."`
}

type ListModelsArgs struct{}

// newMCPServer registers the research tools on a new MCP server. Tool
// failures reach the client as results with isError set.
func (h *Handler) newMCPServer() *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: mcpServerName, Version: h.Version}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "start_research",
		Description: "Start a deep research job. Returns the new record; poll get_research until its status is completed, error or no_results.",
	}, h.startResearchTool)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_research",
		Description: "Get a research record with its status, learnings and report.",
	}, h.getResearchTool)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_models",
		Description: "List the supported models by family.",
	}, h.listModelsTool)

	return s
}

// newMCPHandler serves one MCP server over the streamable HTTP transport,
// which owns the Mcp-Session-Id lifecycle.
func (h *Handler) newMCPHandler() http.Handler {
	s := h.newMCPServer()
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s }, nil)
}

func (h *Handler) startResearchTool(ctx context.Context, _ *mcp.CallToolRequest, args StartResearchArgs) (*mcp.CallToolResult, any, error) {
	rec, err := h.Service.CreateResearch(ctx, CreateResearchRequest{
		Query:             args.Query,
		Model:             args.Model,
		SearchModel:       args.SearchModel,
		MaxSearches:       args.MaxSearches,
		CustomRequirement: args.CustomRequirement,
	})
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(rec)
}

func (h *Handler) getResearchTool(ctx context.Context, _ *mcp.CallToolRequest, args GetResearchArgs) (*mcp.CallToolResult, any, error) {
	if args.ID == "" {
		return nil, nil, errors.New("id is required")
	}
	rec, err := h.Service.GetResearch(ctx, args.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("Research %s not found", args.ID)
	}
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(rec)
}

func (h *Handler) listModelsTool(context.Context, *mcp.CallToolRequest, ListModelsArgs) (*mcp.CallToolResult, any, error) {
	return jsonResult(map[string]any{"models": h.Catalog.Models})
}

// jsonResult wraps v as the JSON text content of a tool result.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
