// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
	"github.com/xkilldash9x/chatpilot-cli/internal/capture"
	"github.com/xkilldash9x/chatpilot-cli/internal/config"
	"github.com/xkilldash9x/chatpilot-cli/internal/dispatcher"
	"github.com/xkilldash9x/chatpilot-cli/internal/mocks"
)

// testEnv is an isolated data directory with a config file pointing at it.
type testEnv struct {
	dir        string
	configPath string
	fake       *mocks.FakeAdapter
}

func newTestEnv(t *testing.T, extraYAML string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
app:
  data_dir: %q
logger:
  level: error
pacing:
  settle: 0s
  activate: 0s
  search_settle: 0s
  send_settle: 0s
capture:
  on_actions: false
%s`, dir, extraYAML)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	env := &testEnv{dir: dir, configPath: path, fake: mocks.NewFakeAdapter()}

	prevFactory, prevDispatcher, prevMonitor := backendFactory, dispatcherOptions, monitorOptions
	backendFactory = func(*config.Config, *zap.Logger) (backend.Adapter, capture.Service, error) {
		return env.fake, capture.Noop{}, nil
	}
	dispatcherOptions = []dispatcher.Option{dispatcher.WithSleep(func(context.Context, time.Duration) error { return nil })}
	t.Cleanup(func() {
		backendFactory, dispatcherOptions, monitorOptions = prevFactory, prevDispatcher, prevMonitor
	})
	return env
}

func (e *testEnv) execute(ctx context.Context, args ...string) (string, error) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--config", e.configPath))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCmd_VersionFlag(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, Version+"\n", out.String())
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--config", "/does/not/exist.yaml"})

	require.NoError(t, root.ExecuteContext(context.Background()), "version needs no configuration")
	assert.Equal(t, Version+"\n", out.String())
}

func TestRootCmd_InvalidBackend(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.execute(context.Background(), "open", "--backend", "carrier-pigeon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.backend")
}

func TestInitializeConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("monitor:\n  delay: 20s\n  jitter: 2s\n  target: file\n"), 0o644))
	t.Setenv("CHATPILOT_MONITOR_TARGET", "env")

	cmd := &cobra.Command{Use: "precedence"}
	cmd.Flags().Duration("delay", 0, "")
	cmd.Flags().Duration("jitter", 0, "")
	cmd.Flags().String("target", "", "")
	bindFlag(cmd.Flags(), "delay", "monitor.delay")
	bindFlag(cmd.Flags(), "jitter", "monitor.jitter")
	bindFlag(cmd.Flags(), "target", "monitor.target")
	require.NoError(t, cmd.ParseFlags([]string{"--delay", "3s"}))

	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, initializeConfig(cmd, v, path))
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Monitor.Delay, "flag beats file")
	assert.Equal(t, 2*time.Second, cfg.Monitor.Jitter, "file beats an unset flag")
	assert.Equal(t, "env", cfg.Monitor.Target, "env beats file")
	assert.Equal(t, 5*time.Second, cfg.Monitor.PollInterval, "defaults fill the rest")
}

func TestGetConfigWithoutPreRun(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	_, err := getConfig(cmd)
	assert.Error(t, err)
}
