package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// tenantFlags are shared by every tenant-scoped command.
type tenantFlags struct {
	tenant string
	branch string
}

func (f *tenantFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&f.branch, "branch", "", "branch id (default: all branches)")
	_ = cmd.MarkFlagRequired("tenant")
}

func trainCmd() *cobra.Command {
	var tf tenantFlags
	var force bool

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the settlement delay model for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			m, err := a.forecasts.Train(cmd.Context(), tf.tenant, tf.branch, force)
			if err != nil {
				return err
			}

			switch {
			case m.Cached:
				fmt.Printf("Model is fresh (trained %s), skipped.\n", humanize.Time(m.TrainingDate))
			case m.AccuracyScore == 0:
				fmt.Printf("Not enough settled history: %d data points.\n", m.DataPoints)
			default:
				fmt.Printf("Trained on %s data points: accuracy %.1f%%, MAE %.2f days, RMSE %.2f days.\n",
					humanize.Comma(int64(m.DataPoints)), m.AccuracyScore, m.MAE, m.RMSE)
			}
			return nil
		},
	}
	tf.register(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "retrain even if the model is fresh")
	return cmd
}

func predictCmd() *cobra.Command {
	var tf tenantFlags
	var horizon int
	var scenario string

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Forecast daily balances and store the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			if horizon == 0 {
				horizon = cfg.Forecast.DefaultHorizonDays
			}
			days, err := a.forecasts.Predict(cmd.Context(), tf.tenant, tf.branch, horizon, scenario)
			if err != nil {
				return err
			}
			printDays(days)
			return nil
		},
	}
	tf.register(cmd)
	cmd.Flags().IntVar(&horizon, "horizon", 0, "forecast horizon in days (7-90)")
	cmd.Flags().StringVar(&scenario, "scenario", domain.Realistic.Name, "pessimistic, realistic or optimistic")
	return cmd
}

func compareCmd() *cobra.Command {
	var tf tenantFlags
	var horizon int

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare the scenario presets side by side",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			if horizon == 0 {
				horizon = cfg.Forecast.DefaultHorizonDays
			}
			summaries, err := a.forecasts.Compare(cmd.Context(), tf.tenant, tf.branch, horizon)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "SCENARIO\tFINAL\tMINIMUM\tCRITICAL DAYS\tRUNWAY")
			for _, s := range domain.Scenarios() {
				sum := summaries[s.Name]
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d days\n",
					s.Name, amount(sum.FinalBalance), amount(sum.MinBalance), len(sum.CriticalDates), sum.CashRunwayDays)
			}
			return nil
		},
	}
	tf.register(cmd)
	cmd.Flags().IntVar(&horizon, "horizon", 0, "forecast horizon in days (7-90)")
	return cmd
}

func printDays(days []domain.PredictionResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "DATE\tBALANCE\tCONFIDENCE\tRISK\tITEMS")
	for _, d := range days {
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\t%d\n",
			d.Date.Format(domain.DateLayout), amount(d.PredictedBalance), d.ConfidenceScore*100, d.RiskLevel, d.Factors.TransactionCount)
	}
	if n := len(days); n > 0 {
		for _, rec := range days[n-1].Recommendations {
			fmt.Fprintf(w, "\n%s", rec)
		}
		fmt.Fprintln(w)
	}
}

func amount(v float64) string {
	return humanize.FormatFloat("#,###.##", v) + " " + cfg.Forecast.Currency
}
