// Package mcpbridge exposes a Tool Registry over the Model Context Protocol,
// so the same search/collect_url/hf_trending tools the in-process planner
// calls directly are also reachable by an external MCP-speaking agent host
// (Claude Desktop, an IDE assistant, another MCP client) without a second
// implementation of each tool.
//
// Every registered tool is bridged generically: its ToolFunc already accepts
// a raw JSON argument map and returns an any result, which is exactly the
// shape mcp.AddTool wants for an untyped tool, so bridging needs no
// per-tool glue.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"scholarpilot.dev/core/internal/tools"
)

// NewServer builds an MCP server named name/version with every tool in
// registry registered under its own name and description.
func NewServer(registry *tools.Registry, name, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	RegisterAll(server, registry)
	return server
}

// RegisterAll bridges every tool currently in registry onto server. Tools
// registered after this call are not picked up; call it once after
// RegisterBuiltins has finished.
func RegisterAll(server *mcp.Server, registry *tools.Registry) {
	for _, def := range registry.ListTools("") {
		mcp.AddTool(server, &mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
		}, bridgeHandler(registry, def.Name))
	}
}

// bridgeHandler adapts registry.ExecuteTool into the (ctx, *mcp.CallToolRequest,
// map[string]any) -> (*mcp.CallToolResult, any, error) shape mcp.AddTool
// expects, so the registry stays the single source of truth for tool
// behavior and caching.
func bridgeHandler(registry *tools.Registry, name string) func(context.Context, *mcp.CallToolRequest, map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := registry.ExecuteTool(ctx, name, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error: %v", err)}},
				IsError: true,
			}, nil, nil
		}
		return &mcp.CallToolResult{Content: toJSONContent(result)}, result, nil
	}
}

func toJSONContent(data any) []mcp.Content {
	jsonData, err := json.Marshal(data)
	if err != nil {
		jsonData, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return []mcp.Content{&mcp.TextContent{Text: string(jsonData)}}
}

// Serve runs server over stdio until ctx is cancelled or the transport
// closes, matching the stdio-child-process deployment MCP hosts expect.
func Serve(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
