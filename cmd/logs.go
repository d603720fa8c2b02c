package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openwash/fleetd/config"
	"github.com/openwash/fleetd/core/command/logging"
)

var (
	logsDevice string
	logsKind   string
	logsSince  time.Duration
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query the command audit trail",
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsDevice, "device", "", "only records for this device")
	logsCmd.Flags().StringVar(&logsKind, "kind", "", "only records for this command kind")
	logsCmd.Flags().DurationVar(&logsSince, "since", 0, "only records newer than this age (e.g. 24h)")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var store logging.LogStore
	switch cfg.Logging.Backend {
	case "sqlite":
		store, err = logging.NewSQLiteStore(cfg.Logging.Path)
	default:
		store, err = logging.NewJSONLStore(cfg.Logging.Path)
	}
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error while closing audit store: %v\n", err)
		}
	}()

	q := logging.Query{DeviceID: logsDevice, Kind: logsKind}
	if logsSince > 0 {
		q.Start = time.Now().Add(-logsSince)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	records, err := store.Query(ctx, q)
	if err != nil {
		return err
	}
	for _, r := range records {
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%dms",
			r.Timestamp.Format(time.RFC3339), r.DeviceID, r.CommandID, r.Kind, r.State, r.LatencyMS)
		if r.Error != "" {
			line += "\t" + r.Error
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
