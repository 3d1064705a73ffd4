package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncVerbose bool

func init() {
	syncCmd.Flags().BoolVarP(&syncVerbose, "verbose", "v", false, "log each replay attempt")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued mutations against the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, store, err := newClient(cfg, syncVerbose)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := client.Sync(context.Background())
		if err != nil {
			return fmt.Errorf("drain failed: %w", err)
		}

		okColor.Printf("applied %d", stats.Applied)
		if stats.Retried > 0 {
			fmt.Print("  ")
			warnColor.Printf("retrying %d", stats.Retried)
		}
		if stats.Dropped > 0 {
			fmt.Print("  ")
			errColor.Printf("dropped %d (see 'quantum queue failed')", stats.Dropped)
		}
		fmt.Println()
		return nil
	},
}
