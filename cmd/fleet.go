package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openwash/fleetd/config"
	"github.com/openwash/fleetd/core/liveness"
	"github.com/openwash/fleetd/infra/ledger"
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Fleet related commands",
}

var fleetLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List known devices and their liveness",
	RunE:  runFleetLs,
}

func init() {
	fleetCmd.AddCommand(fleetLsCmd)
	rootCmd.AddCommand(fleetCmd)
}

func runFleetLs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	led, err := ledger.NewSQLite(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	defer func() {
		if err := led.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error while closing ledger: %v\n", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	devices, err := led.ListDevices(ctx)
	if err != nil {
		return err
	}
	tracker := liveness.Tracker{}
	if cfg.Liveness.OfflineThresholdMS > 0 {
		tracker.Threshold = time.Duration(cfg.Liveness.OfflineThresholdMS) * time.Millisecond
	}
	for _, d := range devices {
		snap := tracker.Evaluate(d)
		state := "online"
		if snap.Offline {
			state = "offline"
		}
		fmt.Printf("%s\t%s\t%s\n", d.ID, state, snap.Age)
	}
	return nil
}
