package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"-log-level", "error"}, args...), strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunArguments(t *testing.T) {
	code, out, _ := runCLI(t, "", "1+2", "2*(3+4)", "1/3")

	assert.Equal(t, exitOK, code)
	assert.Equal(t, "3\n14\n1/3\n", out)
}

func TestRunReportsErrors(t *testing.T) {
	code, out, _ := runCLI(t, "", "1+2", "1+", "1/0")

	assert.Equal(t, exitFailed, code)
	assert.Equal(t, "3\nError: unexpected end of input\nError: division by zero\n", out)
}

func TestRunStdin(t *testing.T) {
	code, out, _ := runCLI(t, "1+2\n\n  4*5  \n")

	assert.Equal(t, exitOK, code)
	assert.Equal(t, "3\n20\n", out)
}

func TestRunBadEngine(t *testing.T) {
	code, _, stderr := runCLI(t, "", "-engine", "jvm", "1+2")

	assert.Equal(t, exitStartup, code)
	assert.Contains(t, stderr, "unsupported engine")
}

func TestRunBadFlag(t *testing.T) {
	code, _, _ := runCLI(t, "", "-nope")

	assert.Equal(t, exitStartup, code)
}

func TestRunConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exprctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: native\nmax_concurrency: 2\n"), 0o644))

	code, out, _ := runCLI(t, "", "-config", path, "10-4")

	assert.Equal(t, exitOK, code)
	assert.Equal(t, "6\n", out)
}

func TestRunMissingGuest(t *testing.T) {
	t.Setenv("EXPRBRIDGE_WASM_GUEST_DIR", filepath.Join(t.TempDir(), "missing"))

	code, _, _ := runCLI(t, "", "-engine", "wasm", "1+2")

	assert.Equal(t, exitStartup, code)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{"-log-level", "error", "1+2"}, strings.NewReader(""), &stdout, &stderr)

	assert.Equal(t, exitFailed, code)
	assert.Equal(t, "Error: context canceled\n", stdout.String())
}

func writeMetricsConfig(t *testing.T, port int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exprctl.yaml")
	cfg := fmt.Sprintf("metrics_enabled: true\nmetrics_port: %d\n", port)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestRunServesMetricsUntilInterrupted(t *testing.T) {
	port := freePort(t)
	path := writeMetricsConfig(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"-log-level", "error", "-config", path, "1+2"}, strings.NewReader(""), &stdout, &stderr)
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		body = string(raw)
		return strings.Contains(body, "exprbridge_parse_requests_total")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, `outcome="ok"`)

	select {
	case code := <-done:
		t.Fatalf("run returned %d before interruption", code)
	default:
	}

	cancel()

	select {
	case code := <-done:
		assert.Equal(t, exitOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after interruption")
	}
	assert.Equal(t, "3\n", stdout.String())
}

func TestRunMetricsPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	path := writeMetricsConfig(t, ln.Addr().(*net.TCPAddr).Port)

	code, out, _ := runCLI(t, "", "-config", path, "1+2")

	assert.Equal(t, exitStartup, code)
	assert.Empty(t, out)
}
