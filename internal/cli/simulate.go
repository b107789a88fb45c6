package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-divergence/internal/app"
)

var simulateInput app.SimulateInput

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Evaluate synthetic prices against the divergence threshold",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := getApp().SimulateDivergence(cmd.Context(), simulateInput)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "reference change: %.3f%%\n", result.ReferenceChangePct)
		fmt.Fprintf(out, "tracked change:   %.3f%%\n", result.TrackedChangePct)
		fmt.Fprintf(out, "net divergence:   %.3f%%\n", result.NetDivergencePct)
		fmt.Fprintf(out, "crossed:          %t\n", result.Fired)
		return nil
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateInput.ReferenceAvg, "reference-avg", 0, "Baseline reference price")
	simulateCmd.Flags().Float64Var(&simulateInput.TrackedAvg, "tracked-avg", 0, "Baseline tracked price")
	simulateCmd.Flags().Float64Var(&simulateInput.ReferenceNow, "reference", 0, "Current reference price")
	simulateCmd.Flags().Float64Var(&simulateInput.TrackedNow, "tracked", 0, "Current tracked price")
}
