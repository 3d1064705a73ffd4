package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	quantum "github.com/joshuawendorf21310/fusonems-quantum-v2-sub001"
)

var watchUnit string

func init() {
	watchCmd.Flags().StringVarP(&watchUnit, "unit", "u", "", "unit id to join (defaults to device.unit_id)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream realtime events for a unit",
	Long:  "Connect the realtime channel, join the unit room, and print pushes as they arrive.\nReconnects automatically and drains the offline queue after each reconnect.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		unit := watchUnit
		if unit == "" {
			unit = cfg.Device.UnitID
		}
		if unit == "" {
			return fmt.Errorf("no unit id; pass --unit or set device.unit_id")
		}

		client, store, err := newClient(cfg, false)
		if err != nil {
			return err
		}
		defer store.Close()

		dir, err := dataDir(cfg)
		if err != nil {
			return err
		}

		manager := quantum.NewChannelManager(quantum.ChannelConfig{
			BaseURL:     cfg.Server.BaseURL,
			Credentials: quantum.NewFileCredentials(dir),
		})
		defer manager.Disconnect()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		session, err := manager.Connect(ctx, unit)
		cancel()
		if err != nil {
			return fmt.Errorf("connect realtime channel: %w", err)
		}

		okColor.Printf("-- connected, joined room %s --\n", unit)

		session.OnConnected(func(reconnected bool) {
			if !reconnected {
				return
			}
			warnColor.Println("-- reconnected, draining offline queue --")
			go client.Sync(context.Background())
		})
		session.OnDisconnected(func(reason string) {
			warnColor.Printf("-- disconnected: %s --\n", reason)
		})
		session.OnTripAcknowledged(func(e quantum.TripAcknowledged) {
			okColor.Printf("[trip] %s acknowledged by %s", e.TripID, e.UnitID)
			dimColor.Printf("  %s -> %s\n", e.Pickup.Name, e.Destination.Name)
		})
		session.OnUnitStatusChanged(func(e quantum.UnitStatusChanged) {
			fmt.Printf("[unit] %s is now %s", e.UnitID, e.Status)
			dimColor.Printf("  at %s\n", e.Timestamp)
		})
		session.OnFieldTimestampRecorded(func(e quantum.FieldTimestampRecorded) {
			fmt.Printf("[time] trip %s: %s", e.TripID, e.TimestampType)
			dimColor.Printf("  %s (%s)\n", e.Timestamp, e.Source)
		})

		okColor.Printf("Watching unit %s. Ctrl-C to stop.\n", unit)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println()
		return nil
	},
}
