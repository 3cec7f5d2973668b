package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sudo-init-do/agenthub/internal/config"
	"github.com/sudo-init-do/agenthub/internal/store"
)

// env is what every subcommand needs: config, a logger and the store.
type env struct {
	cfg *config.Config
	log *zap.Logger
	st  store.Store
	out io.Writer
}

// opener builds the env; tests swap it for an in-memory one.
type opener func(ctx context.Context) (*env, error)

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := config.InitLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: logger, st: st, out: os.Stdout}, nil
}

func (e *env) close() {
	e.st.Close()
	_ = e.log.Sync()
}

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "adminutil",
		Short:         "Operator tools for the agent marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(open),
		newSeedCmd(open),
		newDelistCmd(open),
		newAuditCmd(open),
		newDisputesCmd(open),
		newTokenCmd(open),
	)
	return root
}

// withEnv opens the env for the duration of one command.
func withEnv(open opener, fn func(ctx context.Context, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		e, err := open(ctx)
		if err != nil {
			return err
		}
		defer e.close()
		e.out = cmd.OutOrStdout()
		return fn(ctx, e, args)
	}
}

func main() {
	if err := newRootCmd(openEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
