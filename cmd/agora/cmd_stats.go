package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"agora/internal/heartbeat"
)

// statsCmd prints an engine overview: every agent and the codec savings
// achieved across their current HUDs.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show agents and codec telemetry",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	agents, err := st.ListAgents()
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("no agents")
		return nil
	}

	sched := heartbeat.New(cfg, st, nil)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tINTERVAL\tFORMAT\tHUD TOKENS\tMESSAGES")
	for _, a := range agents {
		res, err := sched.BuildHUD(a.ID)
		if err != nil {
			return fmt.Errorf("agent %d: %w", a.ID, err)
		}
		msgs, err := st.MessagesForRoom(a.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.1fs\t%s\t%d\t%d\n",
			a.ID, a.Name, a.Type, a.Status, a.HeartbeatInterval,
			res.Format, res.Tokens, len(msgs))
	}
	w.Flush()

	summary := sched.Builder().Telemetry().Summarize()
	fmt.Printf("\ncodec: %d encodes, %.1f%% average char savings, %d tokens saved\n",
		summary.Entries, summary.AvgCharSavings, summary.TotalTokensSaved)
	return nil
}
