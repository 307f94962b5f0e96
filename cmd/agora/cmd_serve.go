package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agora/internal/heartbeat"
	"agora/internal/provider"
)

// serveCmd runs the heartbeat engine until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the heartbeat engine",
	Long: `Opens the store, connects the configured model provider, and runs the
scheduler loop: every tick, due agents get a HUD, a model call, paced
message delivery, and action application. Stops cleanly on SIGINT/SIGTERM.`,
	RunE: runServe,
}

var pullForwardFlag float64

func init() {
	serveCmd.Flags().Float64Var(&pullForwardFlag, "pull-forward", -1, "override pull-forward window in seconds (0 disables bundling)")
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := provider.NewClient(cfg)
	if err != nil {
		return err
	}

	sched := heartbeat.New(cfg, st, client)
	if pullForwardFlag >= 0 {
		sched.SetPullForwardWindow(pullForwardFlag)
	}
	if err := sched.Start(); err != nil {
		return err
	}

	agents, err := st.ListAgents()
	if err != nil {
		return err
	}
	logger.Info("engine running",
		zap.String("db", cfg.Store.DatabasePath),
		zap.String("provider", cfg.LLM.Provider),
		zap.Int("agents", len(agents)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	sched.Stop()
	fmt.Println("stopped")
	return nil
}
