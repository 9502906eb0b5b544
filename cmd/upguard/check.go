package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/prilive-com/upguard/upstream"
)

var checkTimeout time.Duration

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every upstream once and print the results",
	Long: `Check registers the configured upstreams, runs one health probe
against each and exits non-zero if any is degraded or critical.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 30*time.Second, "overall deadline")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	cfgs, err := loadUpstreams()
	if err != nil {
		return err
	}
	// Streams and schedules are irrelevant for a one-shot check.
	for i := range cfgs {
		cfgs[i].Stream = nil
		cfgs[i].Health.Disabled = false
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	orch, err := buildOrchestrator(st, nil, cfgs)
	if err != nil {
		return err
	}
	defer orch.Shutdown(context.Background())

	records := orch.CheckAll(ctx)
	if bad := printRecords(cmd.OutOrStdout(), records); bad > 0 {
		return fmt.Errorf("%d of %d upstreams unhealthy", bad, len(records))
	}
	return nil
}

// printRecords writes a table sorted by name and returns how many
// records are degraded or critical.
func printRecords(w io.Writer, records map[string]upstream.HealthRecord) int {
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UPSTREAM\tSTATUS\tLATENCY\tERROR")
	bad := 0
	for _, name := range names {
		r := records[name]
		if r.Status == upstream.HealthDegraded || r.Status == upstream.HealthCritical {
			bad++
		}
		latency := "-"
		if len(r.History) > 0 {
			latency = r.History[len(r.History)-1].Latency.Round(time.Millisecond).String()
		}
		errMsg := r.LastError
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, r.Status, latency, errMsg)
	}
	tw.Flush()
	return bad
}
