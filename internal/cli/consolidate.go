package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var consolidateUserID string

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run memory consolidation",
	Long: `Distill recent sessions into a rolling summary, resolving conflicting
claims as it goes. Runs for one user with --user, otherwise for every
user known to the store.`,
	RunE: runConsolidate,
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidateUserID, "user", "", "consolidate a single user")
	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	if consolidateUserID == "" {
		if err := e.consolidator.ConsolidateAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Consolidation complete.")
		return nil
	}

	summary, err := e.consolidator.Consolidate(cmd.Context(), consolidateUserID)
	if err != nil {
		return err
	}
	if summary == nil {
		fmt.Println("Nothing to consolidate.")
		return nil
	}

	fmt.Printf("Summary %d (current=%t)\n", summary.ID, summary.Current)
	fmt.Println(summary.Summary)
	if summary.Resolutions != "" {
		fmt.Printf("Resolved conflicts:\n%s\n", summary.Resolutions)
	}
	return nil
}
