package cli

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/koko/internal/pricing"
	"github.com/soyeahso/koko/internal/store"
)

var now = time.Now

func newRand() *rand.Rand {
	seed := uint64(now().UnixNano())
	return rand.New(rand.NewPCG(seed, seed>>1))
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed four weeks of demo price history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			history, closeHistory, err := openHistory(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			defer closeHistory()

			n, err := store.SeedDemoHistory(cmd.Context(), history, now(), newRand())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d price observations\n", n)
			return nil
		},
	}
}

func newPricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Inspect price history",
	}
	cmd.AddCommand(newPricesAvgCmd())
	cmd.AddCommand(newPricesItemsCmd())
	return cmd
}

func newPricesAvgCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "avg <item>",
		Short: "Print the average price of an item across all stores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			history, closeHistory, err := openHistory(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			defer closeHistory()

			oracle := pricing.NewOracle(history, pricing.Config{
				ReferenceStore: cfg.Pricing.ReferenceStore,
				Now:            now,
			}, log)
			key, avg, ok, err := oracle.Average(cmd.Context(), args[0], time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("%q is not a tracked item (try: koko prices items)", args[0])
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no prices in the last %d days\n", key, days)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: $%.2f average over %d days\n", key, avg, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 28, "trailing window in days")
	return cmd
}

func newPricesItemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "items",
		Short: "List the items with price history",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, k := range pricing.CanonicalKeys() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
		},
	}
}
