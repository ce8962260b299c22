package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ctcgateway/protocol"
	"github.com/c360/ctcgateway/testutil"
)

// syncBuffer lets the test read logs while run is still writing them.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeConfig(t *testing.T, url string) string {
	t.Helper()
	content := fmt.Sprintf(`
gateway:
  connection:
    url: %s
    reconnect_base: 10ms
    reconnect_max: 50ms
  credentials:
    email: %s
    password: %s
  command_timeout: 2s
  acquisition:
    data_timeout: 2s
    temperature_timeout: 300ms
sinks:
  - type: log
`, url, testutil.FakeEmail, testutil.FakePassword)

	path := filepath.Join(t.TempDir(), "ctcgw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestParseFlags_Defaults(t *testing.T) {
	cli, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "info", cli.LogLevel)
	assert.Equal(t, "json", cli.LogFormat)
	assert.Zero(t, cli.Interval)
	assert.Equal(t, 10*time.Second, cli.ShutdownTimeout)
	require.NoError(t, validateFlags(cli))
}

func TestParseFlags_EnvFallbackAndDebug(t *testing.T) {
	t.Setenv("CTCGW_INTERVAL", "5m")
	t.Setenv("CTCGW_LOG_FORMAT", "text")

	cli, err := parseFlags([]string{"--debug", "-c", "ctcgw.yaml"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cli.Interval)
	assert.Equal(t, "text", cli.LogFormat)
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, "ctcgw.yaml", cli.ConfigPath)
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name string
		cli  CLIConfig
		want string
	}{
		{"log level", CLIConfig{LogLevel: "trace", LogFormat: "json", ShutdownTimeout: time.Second}, "log level"},
		{"log format", CLIConfig{LogLevel: "info", LogFormat: "xml", ShutdownTimeout: time.Second}, "log format"},
		{"interval", CLIConfig{LogLevel: "info", LogFormat: "json", ShutdownTimeout: time.Second, Interval: -time.Second}, "interval"},
		{"shutdown", CLIConfig{LogLevel: "info", LogFormat: "json"}, "shutdown timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorContains(t, validateFlags(&tt.cli), tt.want)
		})
	}
}

func TestSetupLogger_Attributes(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"ctcgw"`)
	assert.Contains(t, out, `"version":"`+Version+`"`)
}

func TestRun_Version(t *testing.T) {
	var stdout bytes.Buffer
	code := run(testContext(t), []string{"--version"}, &stdout, &bytes.Buffer{})
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout.String(), Version)
}

func TestRun_BadFlags(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, exitUsage, run(testContext(t), []string{"--log-level=loud"}, &bytes.Buffer{}, &stderr))
	assert.Contains(t, stderr.String(), "invalid log level")

	assert.Equal(t, exitUsage, run(testContext(t), []string{"--no-such-flag"}, &bytes.Buffer{}, &bytes.Buffer{}))
}

func TestRun_InvalidConfigExitsBeforeConnecting(t *testing.T) {
	gw := testutil.NewFakeGateway(t)
	path := filepath.Join(t.TempDir(), "ctcgw.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  connection:\n    url: "+gw.URL()+"\n"), 0o600))

	var stdout syncBuffer
	code := run(testContext(t), []string{"--config", path}, &stdout, &bytes.Buffer{})
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stdout.String(), "Invalid configuration")
	assert.Zero(t, gw.Connects())
}

func TestRun_ValidateOnly(t *testing.T) {
	gw := testutil.NewFakeGateway(t)

	var stdout syncBuffer
	code := run(testContext(t), []string{"--config", writeConfig(t, gw.URL()), "--validate"}, &stdout, &bytes.Buffer{})
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout.String(), "Configuration is valid")
	assert.Zero(t, gw.Connects())
}

func TestRun_SingleReading(t *testing.T) {
	gw := testutil.NewFakeGateway(t)

	var stdout syncBuffer
	code := run(testContext(t), []string{"--config", writeConfig(t, gw.URL())}, &stdout, &bytes.Buffer{})
	assert.Equal(t, exitOK, code, stdout.String())

	logs := stdout.String()
	assert.Contains(t, logs, "Reading delivered")
	assert.Contains(t, logs, `"reading_id":"77"`)
	assert.NotContains(t, logs, testutil.FakePassword)
	assert.Equal(t, 1, gw.Count(protocol.TypeTakeDynReading))
	assert.Equal(t, 1, gw.Count(protocol.TypeUnsubscribe))
}

func TestRun_NoSensorsExitsZero(t *testing.T) {
	gw := testutil.NewFakeGateway(t, testutil.WithSensors(`{}`))

	var stdout syncBuffer
	code := run(testContext(t), []string{"--config", writeConfig(t, gw.URL())}, &stdout, &bytes.Buffer{})
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout.String(), "No connected sensors")
	assert.Zero(t, gw.Count(protocol.TypeTakeDynReading))
}

func TestRun_BadCredentialsFails(t *testing.T) {
	gw := testutil.NewFakeGateway(t, testutil.WithCredentials("other@example.com", "nope"))

	var stdout syncBuffer
	code := run(testContext(t), []string{"--config", writeConfig(t, gw.URL())}, &stdout, &bytes.Buffer{})
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stdout.String(), "ctcgw failed")
}

func TestRun_PeriodicStopsOnCancel(t *testing.T) {
	gw := testutil.NewFakeGateway(t)
	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()

	var stdout syncBuffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"--config", writeConfig(t, gw.URL()), "--interval", "50ms"}, &stdout, &bytes.Buffer{})
	}()

	require.Eventually(t, func() bool {
		return gw.Count(protocol.TypeTakeDynReading) >= 1 && bytes.Contains([]byte(stdout.String()), []byte("Reading delivered"))
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, exitOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.Equal(t, 1, gw.Count(protocol.TypeLogin))
	assert.Equal(t, 1, gw.Count(protocol.TypeSubscribe))
	assert.Equal(t, 1, gw.Count(protocol.TypeUnsubscribe))
}
