// Package main provides lace, a thin exerciser CLI: it opens (or creates)
// a sqlite-backed thread store, registers the built-in tools, wires a
// ProviderAdapter selected by --provider/LACE_PROVIDER, and drives a single
// Agent turn against the message given on the command line. It exists to
// prove the core works end to end without pulling in a TUI or web surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/laceai/lace/pkg/agent"
	"github.com/laceai/lace/pkg/approval"
	"github.com/laceai/lace/pkg/compactor"
	"github.com/laceai/lace/pkg/executor"
	"github.com/laceai/lace/pkg/fragments"
	"github.com/laceai/lace/pkg/hooks"
	"github.com/laceai/lace/pkg/logger"
	"github.com/laceai/lace/pkg/metrics"
	"github.com/laceai/lace/pkg/providers/anthropic"
	"github.com/laceai/lace/pkg/providers/openai"
	"github.com/laceai/lace/pkg/store"
	"github.com/laceai/lace/pkg/store/migrations"
	"github.com/laceai/lace/pkg/threadmgr"
	"github.com/laceai/lace/pkg/tools"
	"github.com/laceai/lace/pkg/types/events"
	"github.com/laceai/lace/pkg/types/provider"

	"gopkg.in/yaml.v3"
)

func init() {
	viper.SetDefault("provider", "anthropic")
	viper.SetDefault("model", "claude-sonnet-4-5")
	viper.SetDefault("max_tokens", 8192)
	viper.SetDefault("context_window", 200000)
	viper.SetDefault("db_path", "./lace.db")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("openai_base_url", "")
	viper.SetDefault("metrics_addr", "")
	viper.SetDefault("mcp_config", "")
	viper.SetDefault("fragment", "")
	viper.SetDefault("fragment_dirs", []string{"./fragments"})

	viper.SetEnvPrefix("LACE")
	viper.AutomaticEnv()
}

// mcpConfigFile is the on-disk shape of --mcp-config: a map of server
// name to tools.MCPServerConfig under the top-level mcp_servers key.
type mcpConfigFile struct {
	Servers map[string]tools.MCPServerConfig `yaml:"mcp_servers"`
}

func loadMCPServers(path string) (map[string]tools.MCPServerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read mcp config")
	}
	var cfg mcpConfigFile
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse mcp config")
	}
	return cfg.Servers, nil
}

// serveMetrics exposes the default Prometheus registry on addr until ctx is
// done, logging (not failing the process on) a listener error, matching the
// pack's promhttp.Handler() wiring.
func serveMetrics(ctx context.Context, addr string) {
	srv := &http.Server{Addr: addr, Handler: promhttp.Handler()}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.WithError(err).Error("metrics server failed")
	}
}

// buildProvider resolves a provider_selector and model override to a
// concrete provider.Adapter. This is the one place in the binary allowed
// to branch on provider name; Agent and ToolExecutor never do. An empty
// model falls back to the configured default, so both the top-level
// agent and a Delegate child asking for a cheaper model go through the
// same construction path.
func buildProvider(selector, model string) (provider.Adapter, error) {
	if model == "" {
		model = viper.GetString("model")
	}
	switch selector {
	case "", "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required")
		}
		return anthropic.NewFromAPIKey(apiKey, anthropic.Config{
			Model:         model,
			MaxTokens:     viper.GetInt64("max_tokens"),
			ContextWindow: viper.GetInt("context_window"),
		})
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required")
		}
		return openai.NewFromAPIKey(apiKey, viper.GetString("openai_base_url"), openai.Config{
			Model:         model,
			MaxTokens:     viper.GetInt("max_tokens"),
			ContextWindow: viper.GetInt("context_window"),
		})
	default:
		return nil, errors.Errorf("unknown provider_selector %q", selector)
	}
}

func main() {
	root := &cobra.Command{
		Use:   "lace [message]",
		Short: "Send a single message through the Lace agent core",
		Args:  cobra.ExactArgs(1),
		RunE:  runOnce,
	}
	root.Flags().String("thread", "", "resume an existing thread ID instead of starting a new one")
	_ = viper.BindPFlag("thread", root.Flags().Lookup("thread"))
	root.Flags().String("provider", "", "provider_selector: anthropic (default) or openai")
	_ = viper.BindPFlag("provider", root.Flags().Lookup("provider"))
	root.Flags().String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	_ = viper.BindPFlag("metrics_addr", root.Flags().Lookup("metrics-addr"))
	root.Flags().String("mcp-config", "", "path to a YAML file listing mcp_servers to bridge in as tools")
	_ = viper.BindPFlag("mcp_config", root.Flags().Lookup("mcp-config"))
	root.Flags().String("fragment", "", "name of a system-prompt fragment to load from fragment_dirs")
	_ = viper.BindPFlag("fragment", root.Flags().Lookup("fragment"))

	if err := root.Execute(); err != nil {
		logger.L.WithError(err).Error("lace failed")
		os.Exit(1)
	}
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	message := args[0]

	db, err := store.Open(ctx, viper.GetString("db_path"))
	if err != nil {
		return errors.Wrap(err, "open event store")
	}
	defer db.Close()

	if err := store.NewMigrationRunner(db).Run(ctx, migrations.All()); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	es := store.NewSQLiteEventStore(db)
	mgr := threadmgr.New(es)

	met := metrics.New()
	if addr := viper.GetString("metrics_addr"); addr != "" {
		go serveMetrics(ctx, addr)
	}

	registry := tools.NewRegistry()
	registry.Register(&tools.FileReadTool{})
	registry.Register(&tools.FileWriteTool{})
	registry.Register(&tools.FileEditTool{})
	registry.Register(&tools.GlobTool{})
	registry.Register(&tools.GrepTool{})
	registry.Register(&tools.ThinkingTool{})
	registry.Register(tools.NewBashTool(nil))
	todoStore := tools.NewTodoStore()
	registry.Register(tools.NewTodoReadTool(todoStore))
	registry.Register(tools.NewTodoWriteTool(todoStore))

	if mcpConfigPath := viper.GetString("mcp_config"); mcpConfigPath != "" {
		servers, err := loadMCPServers(mcpConfigPath)
		if err != nil {
			return errors.Wrap(err, "load mcp config")
		}
		mcpMgr, err := tools.NewMCPManager(servers)
		if err != nil {
			return errors.Wrap(err, "build mcp manager")
		}
		if err := mcpMgr.Initialize(ctx); err != nil {
			return errors.Wrap(err, "initialize mcp servers")
		}
		defer mcpMgr.Close()
		if err := mcpMgr.RegisterTools(ctx, registry); err != nil {
			return errors.Wrap(err, "register mcp tools")
		}
	}

	hookMgr := hooks.New()
	hookMgr.RegisterAfterTurn(func(ctx context.Context, threadID string) {
		logger.G(ctx).WithField("thread_id", threadID).Debug("turn finished")
	})

	gate := approval.New(approval.Policy{
		AutoAllow:             []string{"file_read", "glob", "grep", "thinking", "todo_read", "todo_write"},
		DefaultForDestructive: approval.DecisionDeny,
	})
	gate.Hooks = hookMgr
	exec := executor.New(registry, gate)
	exec.SetMetrics(met)
	exec.SetHooks(hookMgr)

	providerSelector := viper.GetString("provider")
	adapter, err := buildProvider(providerSelector, viper.GetString("model"))
	if err != nil {
		return errors.Wrap(err, "build provider adapter")
	}

	comp := compactor.New(es, mgr, adapter)

	threadID := viper.GetString("thread")
	var thread events.Thread
	if threadID != "" {
		thread, err = mgr.GetThread(ctx, threadID)
	} else {
		thread, err = mgr.CreateThread(ctx)
	}
	if err != nil {
		return errors.Wrap(err, "resolve thread")
	}

	cfg := agent.DefaultConfig()
	cfg.Tools = registry.Names()
	cfg.ProviderSelector = providerSelector
	cfg.Model = viper.GetString("model")

	var systemPrompt string
	if fragmentName := viper.GetString("fragment"); fragmentName != "" {
		fp, err := fragments.NewProcessor(viper.GetStringSlice("fragment_dirs")...)
		if err != nil {
			return errors.Wrap(err, "build fragment processor")
		}
		fr, err := fp.LoadFragment(fragmentName)
		if err != nil {
			return errors.Wrap(err, "load fragment")
		}
		systemPrompt = fr.Content
		if len(fr.Metadata.AllowedTools) > 0 {
			cfg.Tools = fr.Metadata.AllowedTools
		}
	}
	if systemPrompt != "" {
		cfg.SystemPrompt = systemPrompt
	}

	a := agent.New(thread.ThreadID, agent.Deps{
		Manager:          mgr,
		Provider:         adapter,
		Executor:         exec,
		Registry:         registry,
		Gate:             gate,
		Compactor:        comp,
		Metrics:          met,
		Hooks:            hookMgr,
		ProviderResolver: buildProvider,
	}, cfg)

	sub, unsubscribe := a.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range sub {
			logEvent(ev)
		}
	}()

	if err := a.SendMessage(ctx, message); err != nil {
		return errors.Wrap(err, "send message")
	}

	msgs, err := mgr.Messages(ctx, a.ThreadID())
	if err != nil {
		return errors.Wrap(err, "reconstruct transcript")
	}
	for _, m := range msgs {
		for _, c := range m.Content {
			if c.Kind == events.ContentText && c.Text != "" {
				fmt.Printf("[%s] %s\n", m.Role, c.Text)
			}
		}
	}
	return nil
}

func logEvent(ev agent.ObservedEvent) {
	fields := logrus.Fields{"kind": ev.Kind}
	if ev.ToolName != "" {
		fields["tool"] = ev.ToolName
	}
	logger.L.WithFields(fields).Debug("agent event")
}
