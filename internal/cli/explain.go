package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var explainCmd = &cobra.Command{
	Use:   "explain <turn-id>",
	Short: "Show the evidence behind a past reply",
	Long: `Show the trace recorded for a turn: the reply that was sent and the
memories and facts it was grounded on.`,
	Args: cobra.ExactArgs(1),
	RunE: runExplain,
}

func init() {
	rootCmd.AddCommand(explainCmd)
}

func runExplain(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	trace, err := e.orch.Explain(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Turn:    %s\n", trace.TurnID)
	fmt.Printf("User:    %s\n", trace.UserID)
	fmt.Printf("Session: %s\n", trace.SessionID)
	fmt.Printf("At:      %s\n", trace.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Reply:   %s\n", trace.Reply)

	var pretty json.RawMessage = []byte(trace.Evidence)
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Printf("Evidence: %s\n", trace.Evidence)
		return nil
	}
	fmt.Printf("Evidence:\n%s\n", out)
	return nil
}
