package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/dispatch"
	"github.com/foremanhq/foreman/internal/github"
	"github.com/foremanhq/foreman/internal/messagebus"
)

func newRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate trigger rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config file and its rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigFromFile(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("%s: OK (%d rules)\n", configPath, len(cfg.Rules))

			// Best-effort: warn about label rules naming labels the
			// repository does not have. Needs gh and a checkout; skipped
			// silently otherwise.
			labels, err := github.NewClient(cfg.Git.RepoDir, os.Getenv("GH_TOKEN")).ListLabels(cmd.Context())
			if err != nil {
				return nil
			}
			known := make(map[string]bool, len(labels))
			for _, l := range labels {
				known[strings.ToLower(l.Name)] = true
			}
			for _, r := range cfg.Rules {
				if r.Match == dispatch.MatchLabel && !known[strings.ToLower(r.Value)] {
					fmt.Printf("warning: rule %q matches label %q, which the repository does not have\n", r.Name, r.Value)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured rules as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigFromFile(configPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg.Rules)
		},
	})

	cmd.AddCommand(newEventsCommand())
	return cmd
}

func newEventsCommand() *cobra.Command {
	var status string

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Tail run lifecycle events from NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigFromFile(configPath)
			if err != nil {
				return err
			}
			if !cfg.NATS.Enabled {
				return fmt.Errorf("nats is not enabled in %s", configPath)
			}

			bus, err := messagebus.NewNatsMessageBus(messagebus.Config{
				URL:            cfg.NATS.URL,
				StreamName:     cfg.NATS.StreamName,
				ConsumerPrefix: fmt.Sprintf("tail-%d", os.Getpid()),
			})
			if err != nil {
				return err
			}
			defer bus.Close()

			stats := bus.Stats()
			fmt.Fprintf(os.Stderr, "connected to %v, stream %v holds %v messages\n",
				stats["url"], stats["stream"], stats["stream_messages"])

			enc := json.NewEncoder(os.Stdout)
			if err := bus.SubscribeRunEvents(status, func(ev *messagebus.RunEvent) {
				_ = enc.Encode(ev)
			}); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return nil
		},
	}

	eventsCmd.Flags().StringVar(&status, "status", "", "Only show events with this status (started, succeeded, failed, timed_out, terminated)")
	return eventsCmd
}
