package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tasklane/client"
	"tasklane/coordinator"
	"tasklane/domain"
)

func setStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <taskId> <status>",
		Short: "Move a task to a status through the API",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.server == "" {
				return errors.New("--server is required")
			}
			target, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			var last coordinator.Feedback
			notifier := coordinator.NotifierFunc(func(fb coordinator.Feedback) { last = fb })
			coord := coordinator.New(client.New(g.server, g.token, g.timeout), notifier, coordinator.Options{
				Timeout: g.timeout,
				Logger:  g.logger(),
			})
			ch, err := coord.Request(cmd.Context(), args[0], target, domain.SourceDirect)
			if err != nil {
				return err
			}
			out := <-ch
			coord.Wait()
			if out.Err != nil {
				return fmt.Errorf("%s: %s", args[0], last.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", args[0], target, out.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
