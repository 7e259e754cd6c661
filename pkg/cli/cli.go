// Package cli provides the shared command-line plumbing for candump
// commands: a cobra root command, a signal-aware context and a structured
// logger handed to every command.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// CLI is the root of the command tree.
type CLI struct {
	rootCmd *cobra.Command
}

// NewCLI creates the root command.
func NewCLI(name, short string) *CLI {
	return &CLI{
		rootCmd: &cobra.Command{
			Use:           name,
			Short:         short,
			SilenceErrors: true,
			SilenceUsage:  true,
		},
	}
}

// AddCommands registers subcommands.
func (c *CLI) AddCommands(cmds ...*cobra.Command) {
	c.rootCmd.AddCommand(cmds...)
}

// Run executes the command tree.
func (c *CLI) Run() error {
	return c.rootCmd.Execute()
}

// Input bundles what every command run needs.
type Input struct {
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
}

// WithContext adapts a command body to cobra's RunE, giving it a context
// cancelled on SIGINT/SIGTERM and a logger writing to stderr.
func WithContext(f func(ctx context.Context, input Input) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		input := Input{
			Logger: slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)),
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
		}
		return f(ctx, input)
	}
}
