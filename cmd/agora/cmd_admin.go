package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"agora/internal/types"
)

// Operator-side administration: agent creation, room listing, and posting
// messages as the architect.

var (
	createSeed   string
	createType   string
	createModel  string
	createFormat string
	createAdmin  bool
)

var createCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create an agent (and its room)",
	Long: `Creates an agent with the given display name. Every agent owns the room
with its own id and starts with a dynamic-attention membership there.

Example:
  agora create Ada --seed "a curious mathematician" --format toon`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

var sendCmd = &cobra.Command{
	Use:   "send [room-id] [message]",
	Short: "Post a message to a room as the architect",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents",
	RunE:  runAgents,
}

func init() {
	createCmd.Flags().StringVar(&createSeed, "seed", "", "personality seed (personas) or role text (bots)")
	createCmd.Flags().StringVar(&createType, "type", "persona", "agent type: persona or bot")
	createCmd.Flags().StringVar(&createModel, "model", "", "model override (defaults to configured model)")
	createCmd.Flags().StringVar(&createFormat, "format", "verbose", "HUD wire format: verbose, compact, or toon")
	createCmd.Flags().BoolVar(&createAdmin, "admin", false, "grant the agent-creation capability")
	_ = createCmd.MarkFlagRequired("seed")
}

func runCreate(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	agentType := types.AgentPersona
	if createType == string(types.AgentBot) {
		agentType = types.AgentBot
	}
	model := createModel
	if model == "" {
		model = cfg.LLM.Model
	}

	now := time.Now().UTC()
	agent := &types.Agent{
		Name:              args[0],
		Seed:              createSeed,
		Type:              agentType,
		Model:             model,
		Temperature:       0.7,
		CreatedAt:         now,
		CanCreateAgents:   createAdmin,
		Status:            types.StatusIdle,
		HeartbeatInterval: cfg.Scheduler.DefaultInterval,
		OutputFormat:      createFormat,
		KnowledgeJSON:     "{}",
		RoomWPM:           cfg.Rooms.DefaultWPM,
	}
	id, err := st.CreateAgent(agent)
	if err != nil {
		return err
	}
	if err := st.SaveMembership(&types.Membership{
		AgentID: id, RoomID: id, JoinedAt: now,
		IsSelfRoom: true, IsDynamic: true,
	}); err != nil {
		return err
	}

	fmt.Printf("created agent %d (%s, room %d)\n", id, agent.Name, id)
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	roomID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid room id %q", args[0])
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	content := args[1]
	for _, extra := range args[2:] {
		content += " " + extra
	}
	msg, err := st.AppendMessage(&types.Message{
		RoomID:  roomID,
		Sender:  types.SenderArchitect,
		Content: content,
		Kind:    "text",
	})
	if err != nil {
		return err
	}
	fmt.Printf("message %d (seq %d) sent to room %d\n", msg.ID, msg.Seq, roomID)
	return nil
}

func runAgents(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	agents, err := st.ListAgents()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tINTERVAL\tWPM\tTOKENS USED")
	for _, a := range agents {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.1fs\t%d\t%d\n",
			a.ID, a.Name, a.Type, a.Status, a.HeartbeatInterval, a.RoomWPM, a.TotalTokensUsed)
	}
	return w.Flush()
}
