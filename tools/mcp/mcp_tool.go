// Package mcp exposes tools served by external MCP servers through the
// agent's tool registry.
package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"github.com/m4xw311/shellmind/config"
	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// toolCaller is the part of an MCP client session the tools need.
type toolCaller interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
}

// Client manages the connection to a single MCP server subprocess.
type Client struct {
	Name   string
	cmd    *exec.Cmd
	conn   *mcpsdk.ClientSession
	tools  map[string]*Tool
	logger *zap.Logger
}

// Connect starts the MCP server subprocess and discovers the tools it
// provides.
func Connect(ctx context.Context, server config.MCPServer, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cmd := exec.Command(server.Command, server.Args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "shellmind", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", server.Name)
	}
	client := &Client{
		Name:   server.Name,
		cmd:    cmd,
		conn:   conn,
		tools:  make(map[string]*Tool),
		logger: logger.With(zap.String("mcp_server", server.Name)),
	}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			_ = client.Stop()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", server.Name)
		}
		for _, t := range list.Tools {
			schema, err := schemaMap(t.InputSchema)
			if err != nil {
				client.logger.Warn("skipping MCP tool with unusable schema", zap.String("tool", t.Name), zap.Error(err))
				continue
			}
			client.tools[t.Name] = newTool(server.Name, t.Name, t.Description, schema, conn)
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	client.logger.Info("initialized MCP client", zap.Int("tools", len(client.tools)))
	return client, nil
}

// Tools returns the server's tools sorted by name.
func (c *Client) Tools() []*Tool {
	out := make([]*Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Stop terminates the MCP server subprocess.
func (c *Client) Stop() error {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.logger.Info("terminating MCP server")
		return c.cmd.Process.Kill()
	}
	return nil
}

// RegisterAll connects to every configured server and registers its tools.
// A server that fails to start is logged and skipped.
func RegisterAll(ctx context.Context, registry *tools.Registry, servers []config.MCPServer, logger *zap.Logger) []*Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	var clients []*Client
	for _, server := range servers {
		client, err := Connect(ctx, server, logger)
		if err != nil {
			logger.Warn("MCP server unavailable", zap.String("mcp_server", server.Name), zap.Error(err))
			continue
		}
		for _, t := range client.Tools() {
			if err := registry.Register(t); err != nil {
				logger.Warn("could not register MCP tool", zap.String("tool", t.Name()), zap.Error(err))
			}
		}
		clients = append(clients, client)
	}
	return clients
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Tool represents a tool available from an external MCP server.
type Tool struct {
	serverName  string
	toolName    string
	description string
	schema      map[string]any
	caller      toolCaller
}

func newTool(server, name, description string, schema map[string]any, caller toolCaller) *Tool {
	return &Tool{serverName: server, toolName: name, description: description, schema: schema, caller: caller}
}

// Name is "<server>_<tool>", restricted to characters every provider
// accepts in function names.
func (t *Tool) Name() string {
	return unsafeName.ReplaceAllString(t.serverName+"_"+t.toolName, "_")
}

func (t *Tool) Description() string {
	return t.description
}

func (t *Tool) Parameters() map[string]any {
	return t.schema
}

// Execute sends the arguments to the MCP server and returns the text content
// of the result.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.caller.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}
	var parts []string
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	out := strings.Join(parts, "\n")
	if result.IsError {
		return "", errors.New("tool '%s' reported an error: %s", t.Name(), out)
	}
	return out, nil
}

func schemaMap(schema any) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		out = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return out, nil
}
