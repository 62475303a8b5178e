/*
Forager trains tabular Q-learning agents foraging for points on a grid world while a
teacher intervenes in their moves, and records how each kind of intervention shapes
what they learn. It runs single simulations, full experiment sweeps, and a small
server that persists participant data and shows a simulation live.

	forager run --config config.yaml --out results
	forager sweep --sizes 8 --types impede,reset --runs 10 --out exp1
	forager serve --simulate --config config.yaml
*/
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	for _, envFile := range []string{
		".env",
		"../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool
	rootCmd := &cobra.Command{
		Use:   "forager",
		Short: "Forager simulates Q-learning agents foraging on a grid world under teacher interventions.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(newLogger(cmd.OutOrStdout(), debug))
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")

	rootCmd.AddCommand(
		newRunCmd(),
		newSweepCmd(),
		newServeCmd(),
	)
	return rootCmd
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
