package main

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig points the CLI at a file database inside a temp directory.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	cfg := "logger:\n  level: error\n" +
		"database:\n  dsn: " + filepath.Join(dir, "ledger.db") + "\n" +
		"vault:\n  data_key: " + key + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(cfg), 0o600))
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestMigrate(t *testing.T) {
	dir := writeConfig(t)
	out, _, err := run(t, "migrate", "--config", dir)
	require.NoError(t, err)
	assert.JSONEq(t, `{"migrated":true}`, out)
	assert.FileExists(t, filepath.Join(dir, "ledger.db"))
}

func TestImportTwice(t *testing.T) {
	dir := writeConfig(t)
	csvPath := filepath.Join(t.TempDir(), "export.csv")
	csv := "Time,Symbol,Side,Price,Qty,Fee\n" +
		"2024-05-01T10:00:00Z,BTCUSDT,BUY,60000,0.01,0.1\n" +
		"2024-05-01T11:00:00Z,BTCUSDT,SELL,61000,0.01,0.1\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o600))

	args := []string{"import", "--config", dir, "--user", "u1", "--broker", "binance-futures", "--file", csvPath}
	out, _, err := run(t, args...)
	require.NoError(t, err)
	var res struct {
		Imported int64 `json:"imported"`
		Accepted int   `json:"accepted"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, int64(2), res.Imported)
	assert.Equal(t, 2, res.Accepted)

	out, _, err = run(t, args...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Zero(t, res.Imported)
}

func TestSyncNotConnected(t *testing.T) {
	dir := writeConfig(t)
	_, stderr, err := run(t, "sync", "--config", dir, "--user", "u1", "--broker", "bybit-futures")
	require.Error(t, err)
	assert.JSONEq(t, `{"error":"not connected","kind":"not_connected"}`, stderr)
}

func TestRejectsUnknownBroker(t *testing.T) {
	_, _, err := run(t, "sync", "--user", "u1", "--broker", "kraken")
	assert.EqualError(t, err, `unsupported broker "kraken"`)
}
