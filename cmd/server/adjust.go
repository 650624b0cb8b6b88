package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wordcheck/points-engine/points"
)

func init() {
	rootCmd.AddCommand(adjustCmd)

	adjustCmd.Flags().Int64P("user", "u", 0, "User id")
	adjustCmd.Flags().Int64P("delta", "d", 0, "Points to add (positive) or remove (negative)")
	adjustCmd.Flags().StringP("reason", "r", "", "Reason shown in the user's record log")
	adjustCmd.Flags().String("remark", "", "Internal remark")
	_ = adjustCmd.MarkFlagRequired("user")
	_ = adjustCmd.MarkFlagRequired("delta")
	_ = adjustCmd.MarkFlagRequired("reason")
}

var adjustCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Apply a manual balance change",
	Long: `Apply one administrator adjustment through the ledger and print the
resulting balance. Uses the same storage and rules as the API: a debit
larger than the balance is refused.`,
	Example: `  server adjust --user 42 --delta 100 --reason "support ticket 881"
  server adjust -u 42 -d -30 -r "duplicate grant"`,
	RunE: runAdjust,
}

func runAdjust(cmd *cobra.Command, _ []string) error {
	user, _ := cmd.Flags().GetInt64("user")
	delta, _ := cmd.Flags().GetInt64("delta")
	reason, _ := cmd.Flags().GetString("reason")
	remark, _ := cmd.Flags().GetString("remark")

	if user <= 0 {
		return fmt.Errorf("--user must be positive")
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	acct, rec, err := a.ledger.Adjust(cmd.Context(), points.UserID(user), delta, points.Entry{
		Reason:   reason,
		Category: points.CategoryAdminAdjust,
		Remark:   remark,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "record %d: user %d %+d points\n", rec.ID, user, delta)
	fmt.Fprintf(out, "balance %d (level %d %s)\n", acct.CurrentPoints, acct.Level, acct.LevelName)
	return nil
}
