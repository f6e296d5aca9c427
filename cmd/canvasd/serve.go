package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/next-unicorn-dev/canvas"
	"github.com/next-unicorn-dev/canvas/agent"
	"github.com/next-unicorn-dev/canvas/internal/config"
	"github.com/next-unicorn-dev/canvas/logging"
	"github.com/next-unicorn-dev/canvas/session"
	"github.com/next-unicorn-dev/canvas/tool"
)

func newServeCmd(v *viper.Viper, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat, magic and confirmation API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return errors.Wrap(err, "bind flags")
			}
			if err := config.Init(v, *configPath); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return errors.Wrap(err, "load config")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.String(config.KeyAddr, ":8000", "listen address")
	f.String(config.KeyDB, "data/canvas.db", "sqlite database path")
	f.String(config.KeyAgents, "", "yaml file with agent and remote tool overrides")
	f.String(config.KeyProvider, config.ProviderOpenAI, "default model provider: openai or anthropic")
	f.String(config.KeyOpenAIModel, "gpt-4o-mini", "default OpenAI model")
	f.String(config.KeyOpenAIBaseURL, "", "OpenAI compatible base URL")
	f.String(config.KeyAnthropicModel, "claude-3-5-sonnet-20241022", "default Anthropic model")
	f.Float64(config.KeyRunsPerSecond, 1, "run starts per second and session")
	f.Int(config.KeyRunBurst, 5, "run start burst per session")
	f.Int(config.KeyMaxModelCalls, 25, "model calls per run")
	f.Int(config.KeyParallelism, 4, "concurrent tool calls per step")
	f.Duration(config.KeyToolTimeout, 0, "default timeout of remote tools")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.NewZerologLogger(os.Stderr, level, cfg.LogFormat)

	store, err := session.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "open session store")
	}

	registry := agent.DefaultRegistry()
	catalog, err := tool.NewCatalog(tool.Entry{Tool: tool.NewWritePlanTool()})
	if err != nil {
		return err
	}
	overrides, err := config.LoadOverrides(cfg.AgentsFile)
	if err != nil {
		return err
	}
	if err := overrides.Apply(registry, catalog, cfg.ToolTimeout); err != nil {
		return err
	}

	c, err := canvas.New(func(o *canvas.Options) {
		o.Models = config.NewModels(cfg)
		o.Registry = registry
		o.Catalog = catalog
		o.Store = store
		o.Logger = logger
		o.MaxModelCalls = cfg.MaxModelCalls
		o.Parallelism = cfg.Parallelism
		o.RunsPerSecond = cfg.RunsPerSecond
		o.RunBurst = cfg.RunBurst
	})
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("canvasd.close_failed", "error", err.Error())
		}
	}()

	if err := c.Check(); err != nil {
		return errors.Wrap(err, "agent configuration")
	}

	logger.Info("canvasd.start", "addr", cfg.Addr, "db", cfg.DBPath, "provider", cfg.Provider, "tools", len(catalog.Names()))
	return c.ListenAndServe(ctx, cfg.Addr)
}
