package main

import (
	"fmt"
	"os"

	"tradepulse/internal/app"
	"tradepulse/internal/syncer"

	"github.com/spf13/cobra"
)

func newMigrateCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// app.New migrates on connect.
			return rc.withApp(func(a *app.App) error {
				return printJSON(cmd.OutOrStdout(), map[string]bool{"migrated": true})
			})
		},
	}
}

func newConnectCmd(rc *rootConfig) *cobra.Command {
	var (
		userID string
		broker string
		in     syncer.ConnectInput
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Verify and store exchange API credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := parseBroker(broker)
			if err != nil {
				return err
			}
			return rc.withApp(func(a *app.App) error {
				account, err := a.Syncer.Connect(cmd.Context(), userID, b, in)
				if err != nil {
					return commandError(cmd, err)
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"account_id": account.ID, "imported": 0})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&broker, "broker", "", "binance-futures or bybit-futures")
	cmd.Flags().StringVar(&in.APIKey, "api-key", "", "exchange API key")
	cmd.Flags().StringVar(&in.APISecret, "api-secret", "", "exchange API secret")
	cmd.Flags().StringVar(&in.Label, "label", "", "account label")
	cmd.Flags().StringVar(&in.Category, "category", "", "bybit account category (linear or inverse)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("broker")
	return cmd
}

func newSyncCmd(rc *rootConfig) *cobra.Command {
	var userID, broker string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import new exchange history since the last checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := parseBroker(broker)
			if err != nil {
				return err
			}
			return rc.withApp(func(a *app.App) error {
				res, err := a.Syncer.Sync(cmd.Context(), userID, b)
				if err != nil {
					return commandError(cmd, err)
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"imported": res.Imported, "state": res.State})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&broker, "broker", "", "binance-futures or bybit-futures")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("broker")
	return cmd
}

func newImportCmd(rc *rootConfig) *cobra.Command {
	var userID, broker, kind, path string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a CSV export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := parseBroker(broker)
			if err != nil {
				return err
			}
			k, err := syncer.ParseImportKind(kind)
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open csv: %w", err)
			}
			defer f.Close()

			return rc.withApp(func(a *app.App) error {
				res, err := a.Syncer.ImportCSV(cmd.Context(), userID, b, k, f)
				if err != nil {
					return commandError(cmd, err)
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&broker, "broker", "", "exchange or csv broker")
	cmd.Flags().StringVar(&kind, "kind", "executions", "executions or trades")
	cmd.Flags().StringVar(&path, "file", "", "path to the CSV file")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("broker")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
