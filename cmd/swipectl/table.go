package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tasklane/domain"
)

func tableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "table",
		Short: "Print the swipe action table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTable(cmd.OutOrStdout())
		},
	}
}

func printTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tSWIPE LEFT\tSWIPE RIGHT")
	for _, s := range domain.Statuses {
		actions := domain.SwipeActionsFor(s)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s, cell(actions.Left, actions.LeftOK), cell(actions.Right, actions.RightOK))
	}
	return tw.Flush()
}

func cell(a domain.SwipeAction, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%s (%s, %s)", a.Target, a.Icon, a.Theme)
}
