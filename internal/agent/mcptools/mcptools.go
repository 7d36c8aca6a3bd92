// Package mcptools bridges MCP servers into the agent's tool registry.
//
// A [Bridge] connects to one or more MCP servers over stdio or streamable
// HTTP using the official Go SDK, lists each server's tool catalogue, and
// wraps every discovered tool as an [agent.Tool] whose Execute call routes
// through the live session. Close the bridge to release all sessions.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/patchwell/relai/internal/agent"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one MCP server to connect to.
type ServerConfig struct {
	// Name identifies the server in logs and errors.
	Name string

	// Transport selects stdio or streamable HTTP.
	Transport Transport

	// Command is the subprocess command line for stdio servers, split on
	// whitespace into executable and arguments.
	Command string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string

	// URL is the endpoint for streamable HTTP servers.
	URL string
}

// Bridge manages MCP sessions and exposes their tools as agent tools.
type Bridge struct {
	client *mcpsdk.Client

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession
}

// NewBridge returns a Bridge with no connections.
func NewBridge() *Bridge {
	return &Bridge{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "relai", Version: "1.0.0"},
			nil,
		),
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// Connect establishes a session with the server described by cfg and returns
// its tools wrapped for the agent. Connecting a name that already has a
// session closes the old session first.
func (b *Bridge) Connect(ctx context.Context, cfg ServerConfig) ([]agent.Tool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcptools: server config must have a non-empty name")
	}
	transport, err := buildTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return b.connectTransport(ctx, cfg.Name, transport)
}

// connectTransport runs the session handshake and tool discovery over an
// already-built transport.
func (b *Bridge) connectTransport(ctx context.Context, name string, transport mcpsdk.Transport) ([]agent.Tool, error) {
	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcptools: connect to server %q: %w", name, err)
	}

	var tools []agent.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("mcptools: list tools for server %q: %w", name, err)
		}
		tools = append(tools, b.wrapTool(session, *tool))
	}

	b.mu.Lock()
	if old, ok := b.sessions[name]; ok {
		_ = old.Close()
	}
	b.sessions[name] = session
	b.mu.Unlock()

	return tools, nil
}

// ConnectAll connects every server in cfgs and returns the combined tool set.
// The first failure closes nothing already connected; call Close to clean up.
func (b *Bridge) ConnectAll(ctx context.Context, cfgs []ServerConfig) ([]agent.Tool, error) {
	var all []agent.Tool
	for _, cfg := range cfgs {
		tools, err := b.Connect(ctx, cfg)
		if err != nil {
			return all, err
		}
		all = append(all, tools...)
	}
	return all, nil
}

// Close shuts down every session. The bridge must not be used afterwards.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for name, session := range b.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcptools: close session %q: %w", name, err)
		}
		delete(b.sessions, name)
	}
	return firstErr
}

// wrapTool adapts one discovered MCP tool into an agent.Tool. The agent's
// input string is decoded as a JSON object when possible; plain strings are
// wrapped as {"input": ...} so text-protocol agents can still drive
// structured tools.
func (b *Bridge) wrapTool(session *mcpsdk.ClientSession, tool mcpsdk.Tool) agent.Tool {
	return agent.Tool{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  schemaJSON(tool.InputSchema),
		Execute: func(ctx context.Context, input string) (string, error) {
			args, err := decodeArgs(input)
			if err != nil {
				return "", fmt.Errorf("mcptools: invalid input for tool %q: %w", tool.Name, err)
			}
			result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
				Name:      tool.Name,
				Arguments: args,
			})
			if err != nil {
				return "", fmt.Errorf("mcptools: call to tool %q failed: %w", tool.Name, err)
			}
			text := textContent(result)
			if result.IsError {
				return "", fmt.Errorf("mcptools: tool %q reported an error: %s", tool.Name, text)
			}
			return text, nil
		},
	}
}

func buildTransport(ctx context.Context, cfg ServerConfig) (mcpsdk.Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return nil, fmt.Errorf("mcptools: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcptools: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}, nil

	default:
		return nil, fmt.Errorf("mcptools: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}
}

// decodeArgs turns the agent's input string into MCP call arguments.
func decodeArgs(input string) (map[string]any, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || trimmed == "{}" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			return nil, err
		}
		return args, nil
	}
	return map[string]any{"input": input}, nil
}

// textContent concatenates all text blocks of a tool result.
func textContent(result *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// schemaJSON renders a tool's input schema as compact JSON for the system
// prompt, or "" when there is none.
func schemaJSON(schema any) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return string(data)
}

// splitCommand splits a command string into executable and arguments.
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
