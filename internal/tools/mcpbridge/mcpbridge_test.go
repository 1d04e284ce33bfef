package mcpbridge

import (
	"context"
	"fmt"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpilot.dev/core/internal/tools"
)

func newEchoRegistry() *tools.Registry {
	registry := tools.NewRegistry()
	registry.Register(tools.ToolDefinition{
		Name:        "echo",
		Description: "returns its msg argument",
		Call: func(_ context.Context, args map[string]any) (any, error) {
			return args["msg"], nil
		},
	})
	registry.Register(tools.ToolDefinition{
		Name:        "boom",
		Description: "always fails",
		Call: func(_ context.Context, _ map[string]any) (any, error) {
			return nil, fmt.Errorf("upstream down")
		},
	})
	return registry
}

func TestBridgeHandlerRoutesToRegistry(t *testing.T) {
	handler := bridgeHandler(newEchoRegistry(), "echo")

	result, payload, err := handler(context.Background(), nil, map[string]any{"msg": "hello"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
	assert.Equal(t, "hello", payload)

	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `"hello"`, text.Text)
}

func TestBridgeHandlerToolFailureBecomesToolResultError(t *testing.T) {
	handler := bridgeHandler(newEchoRegistry(), "boom")

	result, payload, err := handler(context.Background(), nil, map[string]any{})
	require.NoError(t, err, "tool failures surface as IsError results, not protocol errors")
	require.NotNil(t, result)
	assert.True(t, result.IsError)
	assert.Nil(t, payload)

	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "upstream down")
}

func TestBridgeHandlerUnknownToolBecomesToolResultError(t *testing.T) {
	handler := bridgeHandler(newEchoRegistry(), "nope")

	result, _, err := handler(context.Background(), nil, map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestNewServerBuildsFromRegistry(t *testing.T) {
	server := NewServer(newEchoRegistry(), "scholarpilot-test", "0.0.1")
	assert.NotNil(t, server)
}
