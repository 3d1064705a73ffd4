package main

import (
	"fmt"

	"github.com/spf13/cobra"

	quantum "github.com/joshuawendorf21310/fusonems-quantum-v2-sub001"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store the device bearer token",
	Long:  "Store the bearer token in durable device storage.\nThe SDK re-reads it on every request and every realtime reconnect.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir, err := dataDir(cfg)
		if err != nil {
			return err
		}
		if err := quantum.NewFileCredentials(dir).SetToken(args[0]); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
		okColor.Println("Token stored.")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir, err := dataDir(cfg)
		if err != nil {
			return err
		}
		if err := quantum.NewFileCredentials(dir).ClearToken(); err != nil {
			return err
		}
		okColor.Println("Token cleared.")
		return nil
	},
}
