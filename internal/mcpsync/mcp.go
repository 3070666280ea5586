package mcpsync

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TransportFactory opens a fresh client transport for one call.
type TransportFactory func(ctx context.Context) (mcp.Transport, error)

// EndpointTransport maps an endpoint to an MCP transport: http(s) URLs use
// the streamable HTTP transport, anything else is run as a stdio server
// command line.
func EndpointTransport(endpoint string) TransportFactory {
	return func(ctx context.Context) (mcp.Transport, error) {
		if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
			return &mcp.StreamableClientTransport{Endpoint: endpoint}, nil
		}
		args := strings.Fields(endpoint)
		if len(args) == 0 {
			return nil, ErrNoEndpoint
		}
		return &mcp.CommandTransport{Command: exec.CommandContext(ctx, args[0], args[1:]...)}, nil
	}
}

// MCPRunner calls the command as an MCP tool with the payload as arguments.
type MCPRunner struct {
	connect TransportFactory
	client  *mcp.Client
}

// NewMCPRunner returns a runner that opens a session per call.
func NewMCPRunner(connect TransportFactory) *MCPRunner {
	return &MCPRunner{
		connect: connect,
		client:  mcp.NewClient(&mcp.Implementation{Name: "speckit", Version: "0.1.0"}, nil),
	}
}

// Run implements Runner.
func (r *MCPRunner) Run(ctx context.Context, command string, payload any) error {
	args, err := toArguments(payload)
	if err != nil {
		return err
	}

	transport, err := r.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to open MCP transport: %w", err)
	}
	session, err := r.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("failed to connect MCP session: %w", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: command, Arguments: args})
	if err != nil {
		return fmt.Errorf("MCP tool %s failed: %w", command, err)
	}
	if res.IsError {
		return fmt.Errorf("MCP tool %s returned error: %s", command, textOf(res))
	}
	return nil
}

// toArguments converts payload to a JSON object.
func toArguments(payload any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("payload must encode to a JSON object: %w", err)
	}
	return args, nil
}

func textOf(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "; ")
}
