package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var businessDaysCmd = &cobra.Command{
	Use:   "business-days",
	Short: "Advance a date by a number of business days",
	Long:  "Advance a date by N business days, skipping weekends and the published non-working days.",
	RunE:  runBusinessDays,
}

var (
	businessFrom string
	businessDays int
)

func init() {
	businessDaysCmd.Flags().StringVar(&businessFrom, "from", "", "Start date (YYYY-MM-DD, default today)")
	businessDaysCmd.Flags().IntVar(&businessDays, "days", 0, "Number of business days to advance")

	rootCmd.AddCommand(businessDaysCmd)
}

func runBusinessDays(cmd *cobra.Command, _ []string) error {
	if businessDays < 0 {
		return fmt.Errorf("--days must not be negative")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	start := time.Now()
	if businessFrom != "" {
		if start, err = time.ParseInLocation(time.DateOnly, businessFrom, cfg.TimeLocation()); err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
	}

	resolver, closeRef, err := openResolver(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeRef()

	got, err := resolver.AdvanceBusinessDays(cmd.Context(), start, businessDays)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), got.Format(time.DateOnly))
	return nil
}
