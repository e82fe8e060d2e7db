package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"tasklane/client"
)

func replayCmd(g *globalFlags) *cobra.Command {
	var (
		fail    bool
		latency time.Duration
	)
	cmd := &cobra.Command{
		Use:   "replay <trace.yaml>",
		Short: "Replay a recorded row interaction",
		Long: "Replay feeds the touch, checklist and button steps of a trace to a task row.\n" +
			"Without --server the mutations are accepted by a dry run.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := LoadTrace(args[0])
			if err != nil {
				return err
			}
			logger := g.logger()
			var backend Backend = dryRun{Fail: fail, Latency: latency, Logger: logger}
			if g.server != "" {
				backend = client.New(g.server, g.token, g.timeout)
			}
			reg := prometheus.NewRegistry()
			r := &Replayer{Backend: backend, Out: cmd.OutOrStdout(), Logger: logger, Registerer: reg}
			rep, err := r.Run(cmd.Context(), tr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "final status=%s collapsed=%t feedback=%d\n", rep.Task.Status, rep.Final.Collapsed, len(rep.Feedback))
			return printMutationCounts(cmd.OutOrStdout(), reg)
		},
	}
	cmd.Flags().BoolVar(&fail, "fail", false, "make dry-run status updates fail")
	cmd.Flags().DurationVar(&latency, "latency", 0, "delay applied to dry-run status updates")
	return cmd
}

// printMutationCounts lists the coordinator's mutation counter by source and result.
func printMutationCounts(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		if !strings.HasSuffix(mf.GetName(), "_total") {
			continue
		}
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %.0f", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	return nil
}
