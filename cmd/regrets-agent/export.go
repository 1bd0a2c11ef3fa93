package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vincentbai/regrets-agent/internal/database"
	"github.com/vincentbai/regrets-agent/internal/models"
)

var (
	exportType   string
	exportLimit  int
	exportShared bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print stored telemetry records as JSON",
	Long: `Print the telemetry records stored in the local database as a JSON array.

Examples:
  regrets-agent export
  regrets-agent export --type navigation_batches --limit 10
  regrets-agent export --shared`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportType, "type", "", "Only export records of this type")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "Maximum number of records (0 = all)")
	exportCmd.Flags().BoolVar(&exportShared, "shared", false, "Export reported regrets instead of telemetry")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	_, _, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	var out any
	if exportShared {
		shared, err := db.SharedData(cmd.Context())
		if err != nil {
			return err
		}
		if shared == nil {
			shared = []models.AnnotatedSharedData{}
		}
		out = shared
	} else {
		records, err := db.Records(cmd.Context(), database.RecordFilter{Type: models.Type(exportType), Limit: exportLimit})
		if err != nil {
			return err
		}
		if records == nil {
			records = []database.StoredRecord{}
		}
		out = records
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}
