package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	quantum "github.com/joshuawendorf21310/fusonems-quantum-v2-sub001"
)

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueCountCmd)
	queueCmd.AddCommand(queueFailedCmd)
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline mutation queue",
}

// withQueue opens the local store and hands a queue to fn.
func withQueue(fn func(ctx context.Context, q *quantum.Queue) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), quantum.NewQueue(store, nil))
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending mutations in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(func(ctx context.Context, q *quantum.Queue) error {
			pending, err := q.ListPending(ctx)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				dimColor.Println("Queue is empty.")
				return nil
			}
			for _, m := range pending {
				fmt.Printf("%-24s %-6s %s", m.ID, m.Method, m.TargetURL)
				dimColor.Printf("  enqueued %s", m.EnqueuedAt.Format(time.RFC3339))
				if m.RetryCount > 0 {
					warnColor.Printf("  retries %d/%d", m.RetryCount, quantum.MaxReplayAttempts)
				}
				fmt.Println()
			}
			return nil
		})
	},
}

var queueCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of pending mutations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(func(ctx context.Context, q *quantum.Queue) error {
			count, err := q.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Println(count)
			return nil
		})
	},
}

var queueFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List mutations dropped after exhausting retries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(func(ctx context.Context, q *quantum.Queue) error {
			letters, err := q.DeadLetters(ctx)
			if err != nil {
				return err
			}
			if len(letters) == 0 {
				dimColor.Println("No dead letters.")
				return nil
			}
			for _, dl := range letters {
				errColor.Printf("%-24s %-6s %s", dl.ID, dl.Method, dl.TargetURL)
				dimColor.Printf("  dropped %s  last error: %s", dl.DroppedAt.Format(time.RFC3339), dl.LastError)
				fmt.Println()
			}
			return nil
		})
	},
}
