package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/agentapi"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/policy"
	"github.com/foremanhq/foreman/internal/runner"
)

// stdoutSink prints progress updates to the terminal for one-shot runs.
type stdoutSink struct{}

func (stdoutSink) Post(_ context.Context, u runner.Update) error {
	fmt.Printf("[%s] %s\n", u.Kind, u.Message)
	return nil
}

func newRunCommand() *cobra.Command {
	var (
		prompt  string
		workDir string
		mode    string
		agent   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single agent session from the command line",
		Long:  "Run drives one agent session outside the webhook flow, printing progress to stdout and the final result as JSON. Useful for trying out prompts and permission modes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt is required")
			}

			cfg, err := config.LoadConfigFromFile(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
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

			req := runner.Request{
				SessionID:        uuid.New().String(),
				Prompt:           prompt,
				WorkDir:          workDir,
				Agent:            agent,
				PermissionMode:   policy.Mode(mode),
				Timeout:          cfg.Runner.Timeout,
				ProgressInterval: cfg.Runner.ProgressInterval,
				IncludeToolCalls: true,
			}

			res, err := runner.New(rt, nil, stdoutSink{}, nil).Run(cmd.Context(), req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt to start the session with")
	cmd.Flags().StringVarP(&workDir, "workdir", "w", "", "Working directory for the session")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(policy.ModeDefault), "Permission mode: default, restricted-reply, read-only-review")
	cmd.Flags().StringVarP(&agent, "agent", "a", "", "Agent name to run the session with")
	return cmd
}
