package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/conciliation-filer/internal/db"
	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
)

var referenceCmd = &cobra.Command{
	Use:   "reference",
	Short: "Inspect and load jurisdiction reference data",
}

var referenceValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a reference file against the seed schema",
	Long:  "Validate a reference file against the seed schema. Without a file the embedded seed is checked.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReferenceValidate,
}

var referenceImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace the database reference tables with a reference file",
	Long:  "Replace the database reference tables with a reference file. Without a file the embedded seed is imported.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReferenceImport,
}

func init() {
	referenceCmd.AddCommand(referenceValidateCmd)
	referenceCmd.AddCommand(referenceImportCmd)
	rootCmd.AddCommand(referenceCmd)
}

func seedFromArgs(args []string) (*jurisdiction.Seed, error) {
	if len(args) == 0 {
		return jurisdiction.DefaultSeed()
	}
	return jurisdiction.LoadSeedFile(args[0])
}

func runReferenceValidate(cmd *cobra.Command, args []string) error {
	seed, err := seedFromArgs(args)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reference %s is valid: %d industries, %d authorities, %d non-working days\n",
		seed.Version, len(seed.Industries), len(seed.Authorities), len(seed.NonWorkingDays))
	return nil
}

func runReferenceImport(cmd *cobra.Command, args []string) error {
	seed, err := seedFromArgs(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url (DATABASE_URL) is required")
	}

	database, err := db.Connect(cmd.Context(), cfg.Database.URL)
	if err != nil {
		return err
	}
	defer database.Close()

	if _, err := database.Migrate(cmd.Context()); err != nil {
		return err
	}
	if err := db.NewReferenceRepository(database).Import(cmd.Context(), seed); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported reference %s\n", seed.Version)
	return nil
}
