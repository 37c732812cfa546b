package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/laceai/lace/pkg/types/tooltypes"
)

// MCPServerType selects the transport an MCP server is reached over.
type MCPServerType string

// MCPServerType values.
const (
	MCPServerTypeStdio MCPServerType = "stdio"
	MCPServerTypeSSE   MCPServerType = "sse"
)

// MCPServerConfig describes one externally-hosted MCP server, trimmed to
// stdio/SSE, the two transports mcp-go ships client constructors for.
type MCPServerConfig struct {
	ServerType    MCPServerType     `yaml:"server_type"`
	Command       string            `yaml:"command"`
	Args          []string          `yaml:"args"`
	Envs          map[string]string `yaml:"envs"`
	BaseURL       string            `yaml:"base_url"`
	Headers       map[string]string `yaml:"headers"`
	ToolWhiteList []string          `yaml:"tool_white_list"`
	Timeout       time.Duration     `yaml:"timeout"`
}

func newMCPClient(cfg MCPServerConfig) (*client.Client, error) {
	serverType := cfg.ServerType
	if serverType == "" {
		switch {
		case cfg.BaseURL != "":
			serverType = MCPServerTypeSSE
		case cfg.Command != "":
			serverType = MCPServerTypeStdio
		default:
			return nil, errors.New("mcp server config needs command or base_url")
		}
	}

	switch serverType {
	case MCPServerTypeStdio:
		if cfg.Command == "" {
			return nil, errors.New("command is required for a stdio mcp server")
		}
		env := make([]string, 0, len(cfg.Envs))
		for k, v := range cfg.Envs {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		return client.NewClient(transport.NewStdio(cfg.Command, env, cfg.Args...)), nil
	case MCPServerTypeSSE:
		if cfg.BaseURL == "" {
			return nil, errors.New("base_url is required for an sse mcp server")
		}
		tp, err := transport.NewSSE(cfg.BaseURL, transport.WithHeaders(cfg.Headers))
		if err != nil {
			return nil, errors.Wrap(err, "build sse transport")
		}
		return client.NewClient(tp), nil
	default:
		return nil, errors.Errorf("unknown mcp server_type %q", serverType)
	}
}

// MCPManager owns one mcp-go client per configured server and discovers
// their tools: it fans out initialize/list across servers, aggregates
// errors, and prefixes tool names by server so two servers can't collide
// in the ToolRegistry.
type MCPManager struct {
	clients   map[string]*client.Client
	whiteList map[string][]string
}

// NewMCPManager constructs a client per server in cfg without contacting
// any of them; call Initialize to start the transports.
func NewMCPManager(servers map[string]MCPServerConfig) (*MCPManager, error) {
	m := &MCPManager{clients: make(map[string]*client.Client), whiteList: make(map[string][]string)}
	for name, cfg := range servers {
		c, err := newMCPClient(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "mcp server %q", name)
		}
		m.clients[name] = c
		m.whiteList[name] = cfg.ToolWhiteList
	}
	return m, nil
}

// Initialize starts every server's transport and performs the MCP
// handshake concurrently.
func (m *MCPManager) Initialize(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	wg.Add(len(m.clients))
	for name, c := range m.clients {
		go func(name string, c *client.Client) {
			defer wg.Done()
			if err := startAndInitialize(ctx, c); err != nil {
				mu.Lock()
				errs = append(errs, errors.Wrapf(err, "mcp server %q", name))
				mu.Unlock()
			}
		}(name, c)
	}
	wg.Wait()
	return firstError(errs)
}

func startAndInitialize(ctx context.Context, c *client.Client) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	req := mcp.InitializeRequest{}
	req.Params.ClientInfo = mcp.Implementation{Name: "lace", Version: "dev"}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	_, err := c.Initialize(ctx, req)
	return err
}

func firstError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

// Close shuts down every underlying mcp-go client, logging (not failing
// on) individual close errors.
func (m *MCPManager) Close() {
	for name, c := range m.clients {
		if err := c.Close(); err != nil {
			logrus.WithField("mcp_server", name).WithError(err).Error("failed to close mcp client")
		}
	}
}

// RegisterTools discovers tools on every configured server and registers
// an MCPTool proxy for each into reg, name-prefixed by server so identical
// tool names on different servers can't collide.
func (m *MCPManager) RegisterTools(ctx context.Context, reg *Registry) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	wg.Add(len(m.clients))
	for name, c := range m.clients {
		go func(serverName string, c *client.Client) {
			defer wg.Done()
			result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
			if err != nil {
				mu.Lock()
				errs = append(errs, errors.Wrapf(err, "mcp server %q", serverName))
				mu.Unlock()
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, t := range result.Tools {
				if !toolWhiteListed(t, m.whiteList[serverName]) {
					continue
				}
				reg.Register(NewMCPTool(serverName, c, t))
			}
		}(name, c)
	}
	wg.Wait()
	return firstError(errs)
}

func toolWhiteListed(tool mcp.Tool, whiteList []string) bool {
	if len(whiteList) == 0 {
		return true
	}
	for _, name := range whiteList {
		if name == tool.GetName() {
			return true
		}
	}
	return false
}

// MCPTool adapts one externally-hosted MCP tool into the Tool contract, so
// the ToolExecutor dispatches it exactly like an in-process tool: MCP
// transport details never leak past this file.
type MCPTool struct {
	serverName string
	client     *client.Client
	mcpName    string
	desc       string
	schema     mcp.ToolInputSchema
	timeout    time.Duration
}

// NewMCPTool wraps one discovered mcp.Tool as a lace Tool.
func NewMCPTool(serverName string, c *client.Client, t mcp.Tool) *MCPTool {
	return &MCPTool{
		serverName: serverName,
		client:     c,
		mcpName:    t.Name,
		desc:       t.Description,
		schema:     t.InputSchema,
		timeout:    60 * time.Second,
	}
}

// Name prefixes the remote tool name by server, so multiple servers
// exposing a same-named tool can't collide in the registry.
func (t *MCPTool) Name() string { return fmt.Sprintf("mcp_%s_%s", t.serverName, t.mcpName) }

func (t *MCPTool) Description() string { return t.desc }

// Annotations conservatively treats every MCP tool as neither read-only
// nor parallel-safe: the server implementation is opaque, so the
// ApprovalGate and ToolExecutor fall back to the safest defaults.
func (t *MCPTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{RequiresApprovalDefault: true}
}

func (t *MCPTool) Timeout() time.Duration { return t.timeout }

// GenerateSchema re-marshals the server-declared mcp.ToolInputSchema into
// the same *jsonschema.Schema shape every other Tool returns, so
// ToolRegistry.Descriptors never has to special-case MCP tools.
func (t *MCPTool) GenerateSchema() *jsonschema.Schema {
	b, err := json.Marshal(t.schema)
	if err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(b, &schema); err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	return &schema
}

func (t *MCPTool) Execute(ctx context.Context, input []byte) (tooltypes.Result, error) {
	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return tooltypes.Result{}, errors.Wrap(err, "decode mcp tool input")
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.mcpName
	req.Params.Arguments = args

	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		return tooltypes.Result{}, errors.Wrap(err, "mcp call_tool")
	}

	var blocks []tooltypes.Block
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			blocks = append(blocks, tooltypes.Text(text.Text))
		} else {
			blocks = append(blocks, tooltypes.Text(fmt.Sprintf("%v", c)))
		}
	}
	if result.IsError {
		return tooltypes.Result{}, errors.Errorf("mcp tool %q returned an error result", t.mcpName)
	}
	return tooltypes.Result{Content: blocks}, nil
}
