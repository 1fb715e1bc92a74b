// Package registry connects to an MCP tool server and exposes its catalog to
// the orchestration loop.
//
// The registry is the single source of truth for which tools exist. Calls are
// validated against the advertised catalog before going over the wire, so a
// model hallucinating a tool name never reaches the server.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/beautibuk/agent/internal/conversation"
	"github.com/beautibuk/agent/internal/log"
)

// Client wraps an MCP client session and caches the tool catalog.
type Client struct {
	client *mcp.Client
	logger log.Logger

	mu      sync.RWMutex
	session *mcp.ClientSession
	catalog []conversation.ToolDescriptor
	known   map[string]struct{}
}

// NewClient creates a registry client. Connect must be called before any
// other method.
func NewClient(name, version string, logger log.Logger) *Client {
	return &Client{
		client: mcp.NewClient(&mcp.Implementation{Name: name, Version: version}, nil),
		logger: logger,
	}
}

// Connect establishes the MCP session over the given transport and loads the
// initial tool catalog.
func (c *Client) Connect(ctx context.Context, transport mcp.Transport) error {
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect to tool registry: %w: %w", ErrUnavailable, err)
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	if err := c.RefreshCatalog(ctx); err != nil {
		session.Close()
		return err
	}
	return nil
}

// ConnectHTTP connects over streamable HTTP to the given endpoint.
func (c *Client) ConnectHTTP(ctx context.Context, endpoint string) error {
	return c.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: endpoint})
}

// Close terminates the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// RefreshCatalog re-fetches the tool list from the server. The cached catalog
// stays stable between refreshes so a turn sees a consistent tool set.
func (c *Client) RefreshCatalog(ctx context.Context) error {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("list tools: not connected: %w", ErrUnavailable)
	}

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("list tools: %w: %w", ErrUnavailable, err)
	}

	catalog := make([]conversation.ToolDescriptor, 0, len(result.Tools))
	known := make(map[string]struct{}, len(result.Tools))
	for _, tool := range result.Tools {
		schema, err := schemaToMap(tool.InputSchema)
		if err != nil {
			return fmt.Errorf("decode schema for tool %s: %w", tool.Name, err)
		}
		catalog = append(catalog, conversation.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      schema,
		})
		known[tool.Name] = struct{}{}
	}

	c.mu.Lock()
	c.catalog = catalog
	c.known = known
	c.mu.Unlock()

	c.logger.Debug("tool catalog refreshed", "tools", len(catalog))
	return nil
}

// Tools returns the cached catalog.
func (c *Client) Tools() []conversation.ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]conversation.ToolDescriptor, len(c.catalog))
	copy(out, c.catalog)
	return out
}

// CallTool invokes a tool and returns its textual result.
//
// An unknown name fails with ErrUnknownTool before any network traffic. A
// server-reported tool failure returns *ExecutionError; transport problems
// return ErrUnavailable.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.RLock()
	session := c.session
	_, ok := c.known[name]
	c.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if session == nil {
		return "", fmt.Errorf("call tool %s: not connected: %w", name, ErrUnavailable)
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w: %w", name, ErrUnavailable, err)
	}

	text := contentText(result.Content)
	if result.IsError {
		return "", &ExecutionError{Tool: name, Code: "execution_failed", Message: text}
	}
	return text, nil
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func schemaToMap(schema any) (map[string]any, error) {
	if schema == nil {
		return nil, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
