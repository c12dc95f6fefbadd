package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/logger"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/postgres"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/reading"
)

func init() {
	rootCmd.AddCommand(readingsCmd)

	readingsCmd.Flags().IntP("limit", "n", reading.DefaultLimit, "Maximum number of readings to print")
	readingsCmd.Flags().Duration("timeout", 10*time.Second, "Timeout for the query")
}

var readingsCmd = &cobra.Command{
	Use:   "readings",
	Short: "Print the most recent readings",
	Long: `This command prints the most recent readings stored in Postgres as JSON, one
reading per line, newest first. It reads the same data the dashboard polls
and is mostly useful for checking that the relay is writing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		connStr, err := GetFromEnv(DatabaseURLKey)
		if err != nil {
			return err
		}

		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		timeout, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return err
		}

		db := postgres.NewDB(&postgres.Config{ConnStr: connStr}, logger.NewLogger(false))

		err = db.Start()
		if err != nil {
			return err
		}
		defer db.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		readings, err := db.RecentReadings(ctx, limit)
		if err != nil {
			return err
		}

		return printReadings(cmd, readings)
	},
}

func printReadings(cmd *cobra.Command, readings []*reading.Reading) error {
	enc := json.NewEncoder(cmd.OutOrStdout())

	for _, r := range readings {
		err := enc.Encode(r)
		if err != nil {
			return err
		}
	}

	return nil
}
