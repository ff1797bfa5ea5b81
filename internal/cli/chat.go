package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/memori/pkg/linker"
)

var (
	chatUserID    string
	chatSessionID string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send a message through the memory engine",
	Long: `Send one message through the engine and print the reply, or start an
interactive session when no message is given. Memories and facts the
reply drew on are listed after each turn.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUserID, "user", "", "user id (required)")
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "session id (generated when empty)")
	_ = chatCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	if len(args) > 0 {
		return sendTurn(cmd, e, strings.Join(args, " "))
	}

	fmt.Println("Interactive session. Empty line or Ctrl-D to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		if err := sendTurn(cmd, e, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func sendTurn(cmd *cobra.Command, e *engine, message string) error {
	result, err := e.orch.HandleChat(cmd.Context(), chatUserID, chatSessionID, message)
	if err != nil {
		return err
	}
	chatSessionID = result.SessionID

	if result.Clarification != nil {
		fmt.Println(result.Reply)
		for i, c := range result.Clarification.Candidates {
			fmt.Printf("  %d. %s (%s/%d)\n", i+1, c.Name, c.Ref.Table, c.Ref.ID)
		}
		choice, err := readChoice(result.Clarification.Candidates)
		if err != nil || choice == nil {
			return err
		}
		if _, err := e.orch.ConfirmEntity(cmd.Context(), result.SessionID, result.Clarification.Mention, *choice); err != nil {
			return err
		}
		// Rerun the turn now that the mention resolves
		return sendTurn(cmd, e, message)
	}

	fmt.Println(result.Reply)
	if len(result.UsedMemories) > 0 {
		fmt.Printf("  (used %d memories", len(result.UsedMemories))
		if len(result.UsedFacts) > 0 {
			fmt.Printf(", %d facts", len(result.UsedFacts))
		}
		fmt.Println(")")
	}
	if len(result.Degraded) > 0 {
		fmt.Printf("  (degraded: %s)\n", strings.Join(result.Degraded, ", "))
	}
	fmt.Printf("  turn: %s\n", result.TurnID)
	return nil
}

func readChoice(candidates []linker.Candidate) (*linker.Candidate, error) {
	fmt.Print("choice: ")
	var n int
	if _, err := fmt.Scanln(&n); err != nil {
		return nil, nil
	}
	if n < 1 || n > len(candidates) {
		return nil, fmt.Errorf("choice out of range")
	}
	return &candidates[n-1], nil
}
