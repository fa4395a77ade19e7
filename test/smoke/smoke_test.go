// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build smoke

// Package smoke boots the real daemon binary with no cloud broker, no
// relay binary and no tunnel, and checks it comes up degraded but
// serving: probes answer, the fleet API is empty, shutdown is clean and
// leaves a status snapshot behind.
package smoke

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestSmoke(t *testing.T) {
	binPath := buildBinary(t)

	// 1. Version flag works without any configuration.
	out, err := exec.Command(binPath, "--version").CombinedOutput()
	if err != nil {
		t.Fatalf("--version failed: %v\n%s", err, out)
	}
	if !strings.HasPrefix(string(out), "farmgw ") {
		t.Fatalf("unexpected --version output: %q", out)
	}

	// 2. Prepare a data dir with credentials. The cloud URL points at a
	// closed port: the channel must keep retrying in the background
	// instead of failing startup.
	dataDir := t.TempDir()
	credPath := filepath.Join(dataDir, "credentials.json")
	if err := os.WriteFile(credPath, []byte(`{"api_key":"smoke-key-000"}`), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}

	listenPort := freePort(t)
	deadPort := freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, binPath)
	cmd.Env = os.Environ()
	cmd.Env = withEnv(cmd.Env, "FARMGW_DATA", dataDir)
	cmd.Env = withEnv(cmd.Env, "FARMGW_LISTEN", fmt.Sprintf("127.0.0.1:%d", listenPort))
	cmd.Env = withEnv(cmd.Env, "FARMGW_CLOUD_URL", fmt.Sprintf("nats://127.0.0.1:%d", deadPort))
	cmd.Env = withEnv(cmd.Env, "FARMGW_STATUS_INTERVAL", "1s")
	cmd.Env = withEnv(cmd.Env, "FARMGW_LOG_LEVEL", "debug")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Logf("daemon started, pid %d", cmd.Process.Pid)

	stopped := false
	defer func() {
		if !stopped {
			cancel()
			_ = cmd.Wait()
		}
	}()

	// 3. Wait for liveness.
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", listenPort)
	if err := waitForHealth(baseURL, 10*time.Second); err != nil {
		t.Fatalf("daemon never became healthy: %v", err)
	}
	t.Log("daemon is healthy")

	// 4. Readiness: degraded without a broker, but still ready.
	var ready struct {
		Ready  bool   `json:"ready"`
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	getJSON(t, baseURL+"/readyz", &ready)
	if !ready.Ready {
		t.Fatalf("daemon not ready: %+v", ready)
	}
	if got := ready.Checks["credentials"].Status; got != "healthy" {
		t.Errorf("credentials check = %q, want healthy", got)
	}
	if got := ready.Checks["fleet"].Status; got != "healthy" {
		t.Errorf("fleet check = %q, want healthy (empty fleet)", got)
	}
	if got := ready.Checks["cloud"].Status; got != "degraded" {
		t.Errorf("cloud check = %q, want degraded (no broker)", got)
	}

	// 5. Fleet API answers with an empty roster.
	var printers []map[string]any
	getJSON(t, baseURL+"/api/printers", &printers)
	if len(printers) != 0 {
		t.Errorf("expected empty fleet, got %v", printers)
	}

	// 6. Metrics are exposed.
	metricsBody := getBody(t, baseURL+"/metrics")
	for _, series := range []string{"farmgw_gateway_requests_total", "farmgw_cloud_connected"} {
		if !strings.Contains(metricsBody, series) {
			t.Errorf("metrics endpoint missing %s", series)
		}
	}

	// 7. Unknown camera serials 404.
	resp, err := http.Get(baseURL + "/frame/NOPE")
	if err != nil {
		t.Fatalf("frame request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("frame for unknown serial = %d, want 404", resp.StatusCode)
	}

	// 8. SIGTERM drains cleanly and leaves a final status snapshot.
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal daemon: %v", err)
	}
	if err := waitExit(cmd, 10*time.Second); err != nil {
		t.Fatalf("daemon did not exit cleanly: %v", err)
	}
	stopped = true
	t.Log("daemon exited cleanly")

	statusRaw, err := os.ReadFile(filepath.Join(dataDir, "status.json"))
	if err != nil {
		t.Fatalf("status snapshot missing after shutdown: %v", err)
	}
	var status struct {
		Printers []any `json:"printers"`
	}
	if err := json.Unmarshal(statusRaw, &status); err != nil {
		t.Fatalf("status snapshot unparseable: %v\n%s", err, statusRaw)
	}
	if len(status.Printers) != 0 {
		t.Errorf("expected empty snapshot, got %v", status.Printers)
	}
}

// buildBinary returns the daemon binary path, honoring FARMGW_SMOKE_BIN
// and falling back to building from source.
func buildBinary(t *testing.T) string {
	t.Helper()

	if envBin := os.Getenv("FARMGW_SMOKE_BIN"); envBin != "" {
		abs, err := filepath.Abs(envBin)
		if err != nil {
			t.Fatalf("resolve FARMGW_SMOKE_BIN: %v", err)
		}
		t.Logf("using prebuilt binary %s", abs)
		return abs
	}

	rootDir, err := filepath.Abs("../../")
	if err != nil {
		t.Fatalf("resolve repo root: %v", err)
	}

	binPath := filepath.Join(t.TempDir(), "farmgw-smoke")
	buildCmd := exec.Command("go", "build", "-o", binPath, "./cmd/daemon")
	buildCmd.Dir = rootDir
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		t.Fatalf("build daemon: %v", err)
	}
	return binPath
}

func withEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// freePort grabs an ephemeral port and releases it for the daemon to
// claim. The gap is racy in principle, harmless on a test host.
func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

func waitForHealth(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("no healthy response within %s", timeout)
}

func waitExit(cmd *exec.Cmd, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		return fmt.Errorf("still running after %s", timeout)
	}
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s = %d\n%s", url, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func getBody(t *testing.T, url string) string {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return string(body)
}
