package main

import (
	"fmt"
	"io"

	"tradepulse/internal/app"
	"tradepulse/internal/errs"
	"tradepulse/internal/models"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// rootConfig holds the flags shared by every command.
type rootConfig struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}
	cmd := &cobra.Command{
		Use:   "tradepulse",
		Short: "Operate the trading journal ingestion pipeline",
		Long: `tradepulse runs the ingestion pipeline from the command line.

Commands:
  migrate  Create or update the ledger tables
  connect  Verify and store exchange API credentials
  sync     Import new exchange history since the last checkpoint
  import   Import a CSV export

Examples:
  tradepulse sync --user u1 --broker bybit-futures
  tradepulse import --user u1 --broker binance-futures --kind trades --file export.csv`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&rc.configPath, "config", "c", "./configs", "directory holding config.yml")

	cmd.AddCommand(
		newMigrateCmd(rc),
		newConnectCmd(rc),
		newSyncCmd(rc),
		newImportCmd(rc),
	)
	return cmd
}

// withApp wires the services for one command run.
func (rc *rootConfig) withApp(fn func(a *app.App) error) error {
	a, err := app.New(rc.configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func parseBroker(raw string) (models.Broker, error) {
	broker, ok := models.ParseBroker(raw)
	if !ok {
		return "", fmt.Errorf("unsupported broker %q", raw)
	}
	return broker, nil
}

func printJSON(w io.Writer, payload any) error {
	return json.NewEncoder(w).Encode(payload)
}

// commandError renders err the way the API does and returns it for the exit code.
func commandError(cmd *cobra.Command, err error) error {
	_ = printJSON(cmd.ErrOrStderr(), map[string]any{
		"error": errs.UserMessage(err),
		"kind":  errs.KindOf(err),
	})
	return err
}
