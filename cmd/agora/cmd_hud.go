package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"agora/internal/heartbeat"
)

// hudCmd builds and prints one agent's HUD without running the scheduler.
var hudCmd = &cobra.Command{
	Use:   "hud [agent-id]",
	Short: "Build and print an agent's HUD",
	Long: `Assembles the agent's context snapshot exactly as the next heartbeat
would see it, in the agent's configured wire format, and prints it with
its encode statistics.`,
	Args: cobra.ExactArgs(1),
	RunE: runHUD,
}

func runHUD(cmd *cobra.Command, args []string) error {
	agentID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid agent id %q", args[0])
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sched := heartbeat.New(cfg, st, nil)
	res, err := sched.BuildHUD(agentID)
	if err != nil {
		return err
	}

	fmt.Println(res.Text)
	fmt.Println()
	fmt.Printf("format=%s tokens=%d chars=%d savings=%.1f%%\n",
		res.Format, res.Tokens, res.Stats.EncodedChars, res.Stats.CharSavingsPct())
	if res.ConfigErr != nil {
		fmt.Printf("warning: %v\n", res.ConfigErr)
	}
	return nil
}
