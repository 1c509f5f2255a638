package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/incapacity-engine/incapacity"
)

func init() {
	rootCmd.AddCommand(expectedCmd)

	expectedCmd.Flags().String("type", "EG", "Case type code (EG, AL, AT, LM, LP)")
	expectedCmd.Flags().Int("days", 0, "Total leave days")
	expectedCmd.Flags().String("ibc", "", "Monthly contribution base (IBC)")
	expectedCmd.MarkFlagRequired("days")
	expectedCmd.MarkFlagRequired("ibc")
}

var expectedCmd = &cobra.Command{
	Use:   "expected",
	Short: "Print the expected reimbursement for a leave",
	Long: `Print the amount the insurer should reimburse for a leave of the given
type, length and monthly IBC. No store is opened.`,
	Args: cobra.NoArgs,
	RunE: runExpected,
}

func runExpected(cmd *cobra.Command, _ []string) error {
	rawType, _ := cmd.Flags().GetString("type")
	days, _ := cmd.Flags().GetInt("days")
	rawIBC, _ := cmd.Flags().GetString("ibc")

	caseType, err := incapacity.ParseCaseType(rawType)
	if err != nil {
		return err
	}
	ibc, err := decimal.NewFromString(rawIBC)
	if err != nil {
		return fmt.Errorf("invalid --ibc %q: %w", rawIBC, err)
	}

	expected, err := incapacity.ExpectedForCase(incapacity.LeaveCase{Type: caseType, Days: days, IBC: ibc})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Type:     %s (%s)\n", caseType, caseType.Label())
	fmt.Fprintf(out, "Days:     %d\n", days)
	fmt.Fprintf(out, "IBC:      %s\n", ibc.StringFixed(2))
	fmt.Fprintf(out, "Expected: %s\n", expected.StringFixed(2))
	return nil
}
