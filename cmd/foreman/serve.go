package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/agentapi"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/dedup"
	"github.com/foremanhq/foreman/internal/dispatch"
	"github.com/foremanhq/foreman/internal/github"
	"github.com/foremanhq/foreman/internal/gitops"
	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/messagebus"
	"github.com/foremanhq/foreman/internal/metrics"
	"github.com/foremanhq/foreman/internal/orchestrator"
	"github.com/foremanhq/foreman/internal/runner"
	"github.com/foremanhq/foreman/internal/telemetry"
	"github.com/foremanhq/foreman/internal/webhook"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and process trigger events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.LoadConfigFromFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logMgr := logging.NewManager(cfg.Logging.FilePath)
	logMgr.InstallLogInterceptor()
	defer logMgr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTelemetry(ctx, "foreman", cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("[Serve] telemetry shutdown: %v", err)
			}
		}()
	}

	var guard dedup.Guard
	window := cfg.Dedup.EffectiveWindow()
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		guard = dedup.NewRedisGuard(client, window)
		log.Printf("[Serve] using Redis dedup guard at %s (window %s)", cfg.Redis.Addr, window)
	} else {
		guard = dedup.NewMemoryGuard(window)
	}

	var bus messagebus.RunEventPublisher = messagebus.NoopBus{}
	var busHealth func() error
	if cfg.NATS.Enabled {
		nb, err := messagebus.NewNatsMessageBus(messagebus.Config{
			URL:        cfg.NATS.URL,
			StreamName: cfg.NATS.StreamName,
		})
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer nb.Close()
		bus = nb
		busHealth = nb.Health
	}

	token, err := cfg.GetRuntimeToken()
	if err != nil {
		return err
	}
	rt, err := agentapi.NewClient(agentapi.ClientConfig{
		BaseURL: cfg.Runtime.BaseURL,
		Token:   token,
	})
	if err != nil {
		return err
	}

	tracker := github.NewClient(cfg.Git.RepoDir, os.Getenv("GH_TOKEN"))
	baseBranch := cfg.Git.BaseBranch
	if info, err := tracker.GetRepoInfo(ctx); err != nil {
		log.Printf("[Serve] repository lookup failed, PRs may not resolve: %v", err)
	} else {
		log.Printf("[Serve] tracker repo %s (default branch %s)", info.NameWithOwner, info.DefaultBranch)
		if baseBranch == "" {
			baseBranch = info.DefaultBranch
		}
	}

	var workspaces orchestrator.Workspaces
	var inspector runner.Inspector
	gitMgr, err := gitops.NewManager(cfg.Git.RepoDir, cfg.Git.WorktreesRoot)
	if err != nil {
		log.Printf("[Serve] git disabled, implement runs will not get worktrees: %v", err)
	} else {
		workspaces = gitMgr
		inspector = gitops.NewInspector(gitMgr)
	}

	engine := dispatch.NewEngine(cfg.Rules)
	orch := orchestrator.New(orchestrator.Options{
		Engine:           engine,
		Guard:            guard,
		Executor:         orchestrator.NewRunnerExecutor(rt, inspector, m),
		Tracker:          tracker,
		Workspaces:       workspaces,
		Bus:              bus,
		Metrics:          m,
		BaseBranch:       baseBranch,
		RunTimeout:       cfg.Runner.Timeout,
		ProgressInterval: cfg.Runner.ProgressInterval,
		MaxConcurrent:    cfg.Runner.MaxConcurrent,
	})

	// Rule changes take effect without a restart; everything else in the
	// config requires one.
	go func() {
		err := config.Watch(ctx, configPath, func(c *config.Config) {
			engine.SetRules(c.Rules)
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("[Serve] config watch stopped: %v", err)
		}
	}()

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.Handle("/logs", logMgr.Handler())
			log.Printf("[Serve] metrics on %s/metrics, logs on %s/logs", cfg.Metrics.ListenAddr, cfg.Metrics.ListenAddr)
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				log.Printf("[Serve] metrics server: %v", err)
			}
		}()
	}

	srv := webhook.NewServer(webhook.ServerConfig{
		Handler:      orch,
		Secret:       []byte(cfg.Webhook.Secret),
		Metrics:      m,
		Health:       busHealth,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Serve] listening on %s", cfg.Server.ListenAddr)
		errCh <- srv.Start(cfg.Server.ListenAddr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Printf("[Serve] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Serve] server shutdown: %v", err)
	}
	orch.Wait()
	return nil
}
