package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/memori/pkg/memstore"
)

var (
	memoriesUserID     string
	memoriesKind       string
	memoriesSuperseded bool
)

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "List stored memory units for a user",
	Long: `List a user's memory units with their effective importance after
decay. Superseded units are hidden unless --superseded is given.`,
	RunE: runMemories,
}

func init() {
	memoriesCmd.Flags().StringVar(&memoriesUserID, "user", "", "user id (required)")
	memoriesCmd.Flags().StringVar(&memoriesKind, "kind", "", "filter by kind (profile, preference, commitment, episodic, todo)")
	memoriesCmd.Flags().BoolVar(&memoriesSuperseded, "superseded", false, "include superseded units")
	_ = memoriesCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(memoriesCmd)
}

func runMemories(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	units, err := e.orch.Memories(cmd.Context(), memoriesUserID, memstore.Kind(memoriesKind), memoriesSuperseded)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		fmt.Println("No memories.")
		return nil
	}

	now := time.Now()
	for _, u := range units {
		marker := " "
		if u.SupersededBy != nil {
			marker = "x"
		}
		fmt.Printf("%s %5d  %-11s  %.2f  %s\n",
			marker, u.ID, u.Kind, e.store.EffectiveImportance(u, now), u.Text)
		if u.Entity != nil {
			fmt.Printf("         linked to %s/%d\n", u.Entity.Table, u.Entity.ID)
		}
	}
	fmt.Printf("%d units\n", len(units))
	return nil
}
