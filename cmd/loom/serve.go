package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/agent/providers"
	"github.com/haasonsaas/loom/internal/agents"
	"github.com/haasonsaas/loom/internal/api"
	"github.com/haasonsaas/loom/internal/canvas"
	"github.com/haasonsaas/loom/internal/channels/telegram"
	"github.com/haasonsaas/loom/internal/config"
	"github.com/haasonsaas/loom/internal/ingest"
	"github.com/haasonsaas/loom/internal/knowledge"
	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/sessions"
	"github.com/haasonsaas/loom/internal/summarize"
	"github.com/haasonsaas/loom/internal/tools/admin"
)

// buildServeCmd creates the "serve" command that runs the full runtime:
// canvas store, agent tree, HTTP API and the optional Telegram adapter.
func buildServeCmd() *cobra.Command {
	var (
		configPath       string
		instructionsPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the loom server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, instructionsPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (optional)")
	cmd.Flags().StringVar(&instructionsPath, "instructions", "instructions.yaml", "Per-agent instruction override file")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, instructionsPath string) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	for _, dir := range []string{
		filepath.Dir(cfg.Database.Path),
		filepath.Dir(cfg.Database.SessionPath),
		cfg.Storage.MediaDir,
		cfg.Storage.ImagesDir,
		cfg.Storage.DocsDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating data directory %s: %w", dir, err)
		}
	}

	store, err := canvas.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := sessions.NewSQLiteService(cfg.Database.SessionPath)
	if err != nil {
		return err
	}
	defer sess.Close()

	provider, err := providers.NewGoogleProvider(providers.GoogleConfig{
		APIKey:       cfg.LLM.APIKey,
		DefaultModel: cfg.LLM.ModelFast,
	})
	if err != nil {
		return err
	}

	index, err := knowledge.NewIndex(knowledge.Config{
		PersistPath: filepath.Join(filepath.Dir(cfg.Database.Path), "knowledge"),
		Embedding:   knowledge.GeminiEmbedding(provider.Client(), cfg.LLM.EmbeddingModel),
	})
	if err != nil {
		return err
	}

	ingestSvc, err := ingest.NewService(ingest.Config{
		Store:     store,
		Index:     index,
		Media:     provider,
		Model:     cfg.LLM.ModelFast,
		ImagesDir: cfg.Storage.ImagesDir,
		MediaDir:  cfg.Storage.MediaDir,
		DocsDir:   cfg.Storage.DocsDir,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	runner, err := agent.NewRunner(agent.RunnerConfig{
		Provider: provider,
		Sessions: sess,
		AppName:  "loom",
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	overrides, err := agents.LoadOverrides(instructionsPath)
	if err != nil {
		return err
	}
	treeCfg := agents.Config{
		ModelSmart: cfg.LLM.ModelSmart,
		ModelFast:  cfg.LLM.ModelFast,
		Store:      store,
		Index:      index,
		Admin: admin.Config{
			Env:     cfg.Env,
			RepoDir: ".",
			LogPath: filepath.Join(filepath.Dir(cfg.Database.Path), "loom.log"),
		},
		Overrides: overrides,
	}
	root, err := agents.Build(runner, treeCfg)
	if err != nil {
		return err
	}
	qa, err := agents.QA(treeCfg)
	if err != nil {
		return err
	}

	sum, err := summarize.NewService(summarize.Config{
		Store:  store,
		Runner: runner,
		Agent:  root.FindSubAgent("chat_summarizer"),
		Index:  index,
	})
	if err != nil {
		return err
	}

	server, err := api.NewServer(api.Config{
		Runner:    runner,
		Root:      root,
		Summarize: sum,
		QA:        qa,
		Ingest:    ingestSvc,
		Index:     index,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	if cfg.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{
			Token:           cfg.Telegram.BotToken,
			AllowedChatIDs:  cfg.Telegram.AllowedChatIDs,
			SilentMode:      cfg.Telegram.SilentMode,
			ForwardDebounce: cfg.Telegram.ForwardDebounce,
			Logger:          logger,
			Metrics:         metrics,
		}, telegram.Deps{
			Ingest:    ingestSvc,
			Runner:    runner,
			Root:      root,
			QA:        qa,
			Summarize: sum,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := adapter.Start(ctx); err != nil {
				errCh <- fmt.Errorf("telegram adapter: %w", err)
			}
		}()
		logger.Info(ctx, "telegram adapter starting")
	}

	go func() {
		errCh <- server.Serve(ctx, cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info(ctx, "shutting down")
		return <-errCh
	}
}
