package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tellbot/internal/storage"
	logx "tellbot/pkg/logx"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeJSONConfig(t *testing.T, driver, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"storage":{"driver":"` + driver + `","path":"` + dbPath + `"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tellbot dev (none)")
}

func TestMigrateAndPending(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tell.db")
	cfgPath := writeJSONConfig(t, "sqlite", dbPath)

	out, err := execute(t, "-c", cfgPath, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema ready: table tell_messages")

	// Idempotent.
	_, err = execute(t, "-c", cfgPath, "migrate")
	require.NoError(t, err)

	out, err = execute(t, "-c", cfgPath, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending messages")

	b, err := storage.OpenSQLite(context.Background(), storage.Config{Driver: "sqlite", Path: dbPath}, logx.Nop())
	require.NoError(t, err)
	for _, r := range []string{"bob", "bob", "carol"} {
		ok, err := b.PostMessage(context.Background(), "alice", r, "hi")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, b.Close())

	out, err = execute(t, "-c", cfgPath, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "carol")
	assert.Contains(t, out, "Total")
}

func TestPendingBeforeMigrate(t *testing.T) {
	cfgPath := writeJSONConfig(t, "sqlite", filepath.Join(t.TempDir(), "fresh.db"))
	out, err := execute(t, "-c", cfgPath, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending messages")
	assert.Contains(t, out, "tellbot migrate")
}

func TestPendingRequiresPersistentDriver(t *testing.T) {
	cfgPath := writeJSONConfig(t, "memory", "")
	_, err := execute(t, "-c", cfgPath, "pending")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeps no persistent queue")
}

func TestMissingConfigFails(t *testing.T) {
	_, err := execute(t, "-c", filepath.Join(t.TempDir(), "nope.json"), "pending")
	assert.Error(t, err)
}

func TestRenderPending(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := renderPending([]storage.QueueStat{
		{Recipient: "bob", Count: 3, Oldest: now.Add(-2 * time.Hour)},
		{Recipient: "carol", Count: 1, Oldest: now.Add(-30 * time.Second)},
	}, now)
	assert.Contains(t, out, "Recipient")
	assert.Contains(t, out, "Total")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "30 seconds ago")
	assert.Contains(t, out, "4")
}
