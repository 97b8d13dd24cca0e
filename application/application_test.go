package application

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-relay-go/internal/relay"
)

// syncBuffer 供控制台输出在多个协程间共享。
type syncBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// chdir 切换工作目录并在测试结束时恢复（等价于 Go 1.24 的 t.Chdir）。
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RELAY_SERVER_ROOMS", "7")

	a := New(WithArgs(nil))
	cfg, err := a.loadConfig()
	require.NoError(t, err)

	var conf Config
	require.NoError(t, cfg.Unmarshal(&conf))
	assert.Equal(t, ":5100", conf.Server.Addr)
	assert.Equal(t, 10, conf.Server.MaxSessions)
	assert.Equal(t, 7, conf.Server.Rooms)
	assert.Equal(t, 10*time.Minute, conf.Server.ReadTimeout)
	assert.Equal(t, 1024, conf.Server.MaxLineSize)
	assert.Equal(t, "./chatlog", conf.Chatlog.Dir)
	assert.Equal(t, float64(20), conf.RateLimit.Rate)

	hc := conf.hubConfig()
	assert.Equal(t, 7, hc.Rooms)
	assert.Equal(t, conf.Server.ReadTimeout, hc.IdleTimeout)
}

func TestDefaultsMatchHubDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	a := New(WithArgs(nil))
	cfg, err := a.loadConfig()
	require.NoError(t, err)

	var conf Config
	require.NoError(t, cfg.Unmarshal(&conf))
	got := conf.hubConfig()
	assert.Equal(t, 10*time.Minute, got.IdleTimeout)
	got.IdleTimeout = 0
	assert.Equal(t, relay.DefaultConfig(), got)
}

func TestLoadConfigPriority(t *testing.T) {
	envPath := writeConfig(t, "server:\n  max-sessions: 3\n")
	flagPath := writeConfig(t, "server:\n  max-sessions: 4\n  write-timeout: 2s\n")
	t.Setenv("RELAY_CONFIG_FILE_PATH", envPath)

	var conf Config
	cfg, err := New(WithArgs(nil)).loadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Unmarshal(&conf))
	assert.Equal(t, 3, conf.Server.MaxSessions)

	conf = Config{}
	cfg, err = New(WithArgs([]string{"--config", flagPath})).loadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Unmarshal(&conf))
	assert.Equal(t, 4, conf.Server.MaxSessions)
	assert.Equal(t, 2*time.Second, conf.Server.WriteTimeout)

	conf = Config{}
	cfg, err = New(WithArgs([]string{"--config=" + flagPath})).loadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Unmarshal(&conf))
	assert.Equal(t, 4, conf.Server.MaxSessions)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := New(WithArgs([]string{"--config"})).loadConfig()
	assert.Error(t, err)

	_, err = New(WithArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})).loadConfig()
	assert.Error(t, err)
}

func TestRunServesAndStopsOnExit(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, strings.Join([]string{
		"server:",
		"  addr: 127.0.0.1:0",
		"chatlog:",
		"  dir: " + filepath.Join(dir, "chatlog"),
		"presence:",
		"  dir: " + filepath.Join(dir, "presence"),
		"",
	}, "\n"))
	t.Setenv("RELAY_LOG_ENABLE", "false")

	in, console := io.Pipe()
	out := &syncBuffer{}
	a := New(WithArgs([]string{"--config", path}), WithConsole(in, out))

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case <-a.Ready():
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not start")
	}

	conn, err := net.Dial("tcp", a.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "[server]: enter your name\n", string(buf[:n]))

	_, err = console.Write([]byte("list\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Room 5: 0") }, 2*time.Second, 10*time.Millisecond)

	_, err = console.Write([]byte("exit\n"))
	require.NoError(t, err)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: 127.0.0.1:0\nchatlog:\n  dir: \"\"\npresence:\n  dir: \"\"\n")
	t.Setenv("RELAY_LOG_ENABLE", "false")

	in, console := io.Pipe()
	defer console.Close()
	a := New(WithArgs([]string{"--config", path}), WithConsole(in, io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not start")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not stop")
	}
}
