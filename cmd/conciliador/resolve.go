package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/conciliation-filer/internal/config"
	"github.com/jonathan/conciliation-filer/internal/db"
	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
	"github.com/jonathan/conciliation-filer/internal/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Decide the competent conciliation authority for a case",
	Long: "Decide federal or local competence for a state and industry, and the prescription " +
		"deadline when a termination date is given. Prints the decision as JSON.",
	RunE: runResolve,
}

var (
	resolveState           string
	resolveIndustry        string
	resolveTerminationDate string
	resolveTerminationType string
)

func init() {
	resolveCmd.Flags().StringVar(&resolveState, "state", "", "Federative entity, by name, alias or code (required)")
	resolveCmd.Flags().StringVar(&resolveIndustry, "industry", "", "Industry code")
	resolveCmd.Flags().StringVar(&resolveTerminationDate, "termination-date", "", "Termination date (YYYY-MM-DD)")
	resolveCmd.Flags().StringVar(&resolveTerminationType, "termination-type", string(types.TerminationDismissal), "dismissal, constructive_resignation or employer_rescission")
	_ = resolveCmd.MarkFlagRequired("state")

	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, _ []string) error {
	q := jurisdiction.Query{
		State:           resolveState,
		IndustryCode:    resolveIndustry,
		TerminationType: types.TerminationType(resolveTerminationType),
	}
	if !q.TerminationType.Valid() {
		return fmt.Errorf("invalid --termination-type %q", resolveTerminationType)
	}
	if resolveTerminationDate != "" {
		d, err := time.Parse(time.DateOnly, resolveTerminationDate)
		if err != nil {
			return fmt.Errorf("invalid --termination-date: %w", err)
		}
		q.TerminationDate = &d
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	resolver, closeRef, err := openResolver(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeRef()

	dec, err := resolver.Resolve(cmd.Context(), q)
	if err != nil {
		return err
	}
	return printJSON(cmd, dec)
}

// openResolver builds a resolver over the database reference when one is
// configured, else over the seed file or the embedded seed.
func openResolver(ctx context.Context, cfg *config.Config) (*jurisdiction.Resolver, func(), error) {
	ref, closeRef, err := openReference(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return jurisdiction.NewResolver(ref, jurisdiction.WithLocation(cfg.TimeLocation())), closeRef, nil
}

func openReference(ctx context.Context, cfg *config.Config) (jurisdiction.Reference, func(), error) {
	if cfg.Database.URL != "" {
		database, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		return db.NewReferenceRepository(database), database.Close, nil
	}
	seed, err := loadSeed(cfg.Reference.File)
	if err != nil {
		return nil, nil, err
	}
	return jurisdiction.NewStaticReference(seed), func() {}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
