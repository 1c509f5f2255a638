package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/incapacity-engine/incapacity"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo cases into the configured store",
	Long: `Load a handful of demo cases covering the workflow: a fresh report,
a transcribed case with a partial payment, a work accident paid in full
(auto-closed) and a rejected case. Only use in development.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, logger, store, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer store.Close()

	engine := incapacity.NewEngine(store,
		incapacity.WithLogger(logger.Named("engine")),
		incapacity.WithStrictTransitions(cfg.Workflow.StrictTransitions))

	ids, err := loadDemoCases(cmd.Context(), engine)
	if err != nil {
		return err
	}
	logger.Info("demo cases loaded", zap.Int("count", len(ids)))
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

type demoCase struct {
	employee string
	caseType incapacity.CaseType
	days     int
	ibc      string
	// statuses are applied before payments, in order.
	statuses []incapacity.Status
	payments []string
}

var demoCases = []demoCase{
	{employee: "emp-ana", caseType: incapacity.TypeGeneralDisease, days: 5, ibc: "1300000"},
	{
		employee: "emp-luis", caseType: incapacity.TypeGeneralDisease, days: 95, ibc: "900000",
		statuses: []incapacity.Status{incapacity.StatusInProcess, incapacity.StatusTranscribed},
		payments: []string{"1000000.00"},
	},
	{
		employee: "emp-sofia", caseType: incapacity.TypeWorkAccident, days: 20, ibc: "900000",
		statuses: []incapacity.Status{incapacity.StatusInProcess, incapacity.StatusAuthorized},
		payments: []string{"600000.00"},
	},
	{
		employee: "emp-juan", caseType: incapacity.TypeTrafficAccident, days: 3, ibc: "2000000",
		statuses: []incapacity.Status{incapacity.StatusRejected},
	},
}

// loadDemoCases creates the demo cases and walks each one through its
// statuses and payments. Returns the created case ids.
func loadDemoCases(ctx context.Context, engine *incapacity.Engine) ([]incapacity.CaseID, error) {
	hr := incapacity.Actor{ID: "demo-rrhh", Role: incapacity.RoleHR}
	treasury := incapacity.Actor{ID: "demo-treasury", Role: incapacity.RoleTreasury}
	start := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)

	ids := make([]incapacity.CaseID, 0, len(demoCases))
	for i, d := range demoCases {
		c, err := engine.CreateCase(ctx, incapacity.Actor{ID: d.employee, Role: incapacity.RoleEmployee}, incapacity.NewCaseInput{
			Type:          d.caseType,
			DiagnosisCode: "A09",
			StartDate:     start,
			EndDate:       start.AddDate(0, 0, d.days-1),
			Days:          d.days,
			EntityName:    "EPS Demo",
			IBC:           decimal.RequireFromString(d.ibc),
		})
		if err != nil {
			return nil, fmt.Errorf("demo case %d: %w", i, err)
		}
		for _, s := range d.statuses {
			if _, err := engine.ChangeStatus(ctx, hr, c.ID, string(s), "demo"); err != nil {
				return nil, fmt.Errorf("demo case %d: %w", i, err)
			}
		}
		for j, amount := range d.payments {
			_, err := engine.RecordPayment(ctx, treasury, incapacity.PaymentInput{
				CaseID:      c.ID,
				Amount:      decimal.RequireFromString(amount),
				PaymentDate: start.AddDate(0, 1, 0),
				Reference:   fmt.Sprintf("DEMO-%d-%d", i, j),
			})
			if err != nil {
				return nil, fmt.Errorf("demo case %d: %w", i, err)
			}
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}
