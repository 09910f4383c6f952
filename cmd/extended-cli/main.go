package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
)

// rootCmd starts the interactive trading prompt
var rootCmd = &cobra.Command{
	Use:   "extended-cli",
	Short: "Interactive trading CLI for the Extended perpetuals exchange",
	Long: `Interactive trading CLI for the Extended perpetuals exchange.

Load real-time order book streams, inspect markets and positions and place
post-only limit orders at the best bid or ask. Type 'help' at the prompt for
the command list and 'exit' to leave.`,
	SilenceUsage: true,
	RunE:         runInteractive,
}

// marketsCmd prints the market table once
var marketsCmd = &cobra.Command{
	Use:   "markets [N]",
	Short: "Show markets, or the top N by 24h volume",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOneShot("markets"),
}

// positionsCmd prints open positions once
var positionsCmd = &cobra.Command{
	Use:   "positions [market]",
	Short: "Show open positions, optionally for one market",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOneShot("position"),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional env file with API credentials")

	rootCmd.AddCommand(marketsCmd)
	rootCmd.AddCommand(positionsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer app.shutdown(ctx)

	return app.cli.Run(ctx)
}

// runOneShot runs a single prompt command and exits.
func runOneShot(command string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer app.shutdown(ctx)

		line := command
		for _, a := range args {
			line += " " + a
		}
		app.cli.ProcessCommand(ctx, line)
		return app.cli.Close(ctx)
	}
}
