// Command swipectl drives task status transitions from a terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	server  string
	token   string
	timeout time.Duration
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "swipectl",
		Short:         "Inspect and drive task status transitions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.server, "server", os.Getenv("TASKLANE_SERVER"), "base URL of the tasklane API")
	rootCmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("TASKLANE_TOKEN"), "bearer token sent to the API")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "per-request timeout")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(tableCmd())
	rootCmd.AddCommand(replayCmd(g))
	rootCmd.AddCommand(setStatusCmd(g))
	rootCmd.AddCommand(watchCmd(g))
	return rootCmd
}

func (g *globalFlags) logger() *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	if g.verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.WarnLevel)
	}
	return logger
}
