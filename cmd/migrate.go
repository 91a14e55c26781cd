package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"invoiceocr/internal/logger"
	"invoiceocr/internal/persistence"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Create the company, supplier, invoice, invoice_goal, invoice_line_item and
invoice_ml_data tables. On PostgreSQL the pg_trgm extension is enabled for the
supplier and company similarity search.

With --seed, companies and suppliers from a JSON file are inserted afterwards.`,
	Example: `  invoiceocr migrate
  invoiceocr migrate --seed reference.json`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().String("seed", "", "JSON file with companies and suppliers to insert")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("migrate")

	seedFile, _ := cmd.Flags().GetString("seed")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, appOptions{requireDB: true}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.Migrate(); err != nil {
		return err
	}

	if seedFile == "" {
		return nil
	}
	seed, err := loadSeedFile(seedFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store := persistence.NewReferenceStore(a.db)
	for _, c := range seed.companies() {
		if err := store.CreateCompany(ctx, c); err != nil {
			return fmt.Errorf("seed company %s: %w", c.Code, err)
		}
	}
	for _, s := range seed.suppliers() {
		if _, err := store.CreateSupplier(ctx, s); err != nil {
			return fmt.Errorf("seed supplier %s: %w", s.Name, err)
		}
	}

	log.Info().
		Int("companies", len(seed.Companies)).
		Int("suppliers", len(seed.Suppliers)).
		Msg("Reference data seeded")
	return nil
}
