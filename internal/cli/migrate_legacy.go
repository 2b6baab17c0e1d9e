package cli

import (
	"encoding/json"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"prepost-assessment-service/internal/config"
	"prepost-assessment-service/internal/domain"
)

// NewMigrateLegacyCmd moves records stored under bare participant ids to the
// participant_mode_date key scheme and prints the report as JSON.
func NewMigrateLegacyCmd(configPath *string) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "migrate-legacy",
		Short: "Migrate legacy session records to the current key scheme",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			rt, err := newStack(cmd.Context(), cfg, log, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.service.RunMigration(cmd.Context(), domain.Date(date))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "calendar date YYYYMMDD for migrated keys (defaults to migration.legacy_date, then today)")
	return cmd
}
