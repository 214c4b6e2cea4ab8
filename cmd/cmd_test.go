package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asaidimu/anansi-fixtures/config"
	"github.com/asaidimu/anansi-fixtures/core/schema"
	"github.com/asaidimu/anansi-fixtures/core/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "fixtures.db")
	cfg.Server.ListenAddr = "127.0.0.1:0"
	return cfg
}

func writeConfigFile(t *testing.T, dbPath, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	content := fmt.Sprintf("storage:\n  path: %s\n%s", dbPath, extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		configPath = config.DefaultConfigFile
		debug = false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LoggingConfig{Level: "warn"}, false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = newLogger(config.LoggingConfig{Level: "warn"}, true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel), "--debug wins over the configured level")

	_, err = newLogger(config.LoggingConfig{Level: "verbose"}, false)
	assert.Error(t, err)
}

func TestApplicationWiring(t *testing.T) {
	ctx := context.Background()
	app, err := newApplication(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	_, err = app.service.RegisterSchema(ctx, schema.EntitySchema{
		Name:   "Token",
		Fields: []schema.FieldDefinition{{Name: "value", Type: schema.FieldTypeString, Required: true}},
	})
	require.NoError(t, err)
	_, err = app.service.Create(ctx, "Token", value.Map{"value": value.String("t-1")}, "")
	require.NoError(t, err)

	claimed, err := app.service.ClaimNext(ctx, "Token", "")
	require.NoError(t, err)
	assert.True(t, claimed.IsConsumed)

	assert.Len(t, app.events.Subscriptions(), 5, "failed operations are audited")
}

func TestApplicationServeStopsOnCancel(t *testing.T) {
	app, err := newApplication(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}

func TestVersionCommand(t *testing.T) {
	original := rootCmd.Version
	defer func() { rootCmd.Version = original }()
	SetVersion("1.2.3-test")

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "fixtures version 1.2.3-test\n", out)
}

func TestSweepCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fixtures.db")

	t.Run("disabled cleanup is skipped", func(t *testing.T) {
		out, err := execute(t, "sweep", "--config", writeConfigFile(t, dbPath, ""))
		require.NoError(t, err)

		var report map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, true, report["skipped"])
	})

	t.Run("enabled cleanup reports both phases", func(t *testing.T) {
		extra := "retention:\n  defaults:\n    autoCleanupEnabled: true\n    schemaRetentionDays: 30\n    entityRetentionDays: 7\n"
		out, err := execute(t, "sweep", "--config", writeConfigFile(t, dbPath, extra))
		require.NoError(t, err)

		var report map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, false, report["skipped"])
		assert.Contains(t, report, "schemas")
		assert.Contains(t, report, "entities")
	})
}

func TestSchemasCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fixtures.db")
	cfgPath := writeConfigFile(t, dbPath, "")

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	app, err := newApplication(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	_, err = app.service.RegisterSchema(context.Background(), schema.EntitySchema{
		Name:   "Account",
		Fields: []schema.FieldDefinition{{Name: "email", Type: schema.FieldTypeString}},
	})
	require.NoError(t, err)
	require.NoError(t, app.Close())

	out, err := execute(t, "schemas", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Account")
}
