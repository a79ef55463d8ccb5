// Copyright 2024 NTVFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package integration runs the ntvfs binary end to end.
//
// Every test gets its own config directory passed through NTVFS_CONFIG_DIR
// on the child's environment, so daemons started by parallel tests never
// share a socket, pid file or lock.
//
// Wait helpers poll at a short interval and log progress once a second so
// a timeout shows what the test was waiting for.
package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var (
	cliBinary   string
	projectRoot string
)

// TestMain builds the CLI binary once before running all tests
func TestMain(m *testing.M) {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get working directory: %v\n", err)
		os.Exit(1)
	}

	projectRoot = filepath.Join(wd, "..", "..")
	cliBinary = filepath.Join(projectRoot, "bin", "ntvfs")

	if err := os.MkdirAll(filepath.Join(projectRoot, "bin"), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create bin directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Building ntvfs binary...")
	cmd := exec.Command("go", "build", "-o", cliBinary, "./cmd/ntvfs")
	cmd.Dir = projectRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build binary: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// CLIResult holds the output of one CLI invocation
type CLIResult struct {
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
}

// Contains reports whether s appears in stdout or stderr
func (r CLIResult) Contains(s string) bool {
	return strings.Contains(r.Combined, s)
}

// CLITimeout is the maximum time a CLI command can run before being killed.
const CLITimeout = 15 * time.Second

// TestEnv is an isolated config directory plus a scratch directory to watch.
type TestEnv struct {
	t         *testing.T
	configDir string
	workDir   string
}

// NewTestEnv creates the directories for one test. The config directory
// lives directly under /tmp because the daemon socket path inside it must
// stay short.
func NewTestEnv(t *testing.T, name string) *TestEnv {
	t.Helper()
	configDir, err := os.MkdirTemp("/tmp", "ntv-"+name+"-")
	if err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	e := &TestEnv{t: t, configDir: configDir, workDir: t.TempDir()}
	t.Cleanup(e.Cleanup)
	return e
}

// Cleanup stops the test's daemon and removes its config directory
func (e *TestEnv) Cleanup() {
	if e.daemonRunning() {
		e.RunCLI("notifyd", "stop")
		e.waitForDaemonStopped(5 * time.Second)
	}
	if os.Getenv("NTVFS_PRESERVE_DEBUG") == "" {
		os.RemoveAll(e.configDir)
	} else {
		e.t.Logf("preserving config dir %s", e.configDir)
	}
}

// RunCLI executes the CLI against this environment's daemon
func (e *TestEnv) RunCLI(args ...string) CLIResult {
	return RunCLIWithConfigDir(e.configDir, args...)
}

// Command prepares a long-running CLI process bound to this environment
func (e *TestEnv) Command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, cliBinary, args...)
	cmd.Env = append(filterEnvExcluding("NTVFS_CONFIG_DIR"), "NTVFS_CONFIG_DIR="+e.configDir)
	cmd.WaitDelay = 2 * time.Second
	return cmd
}

// WriteFile writes content to relPath under the work directory
func (e *TestEnv) WriteFile(relPath, content string) string {
	e.t.Helper()
	path := filepath.Join(e.workDir, relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		e.t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		e.t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func (e *TestEnv) daemonRunning() bool {
	return e.RunCLI("notifyd", "status").Contains("Daemon: running")
}

func (e *TestEnv) waitForDaemonRunning(timeout time.Duration) bool {
	return waitForCondition(e.t, "daemon running", timeout, e.daemonRunning)
}

func (e *TestEnv) waitForDaemonStopped(timeout time.Duration) bool {
	return waitForCondition(e.t, "daemon stopped", timeout, func() bool { return !e.daemonRunning() })
}

func filterEnvExcluding(exclude string) []string {
	prefix := exclude + "="
	var env []string
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			env = append(env, kv)
		}
	}
	return env
}

// RunCLIWithConfigDir executes CLI with an isolated daemon environment via
// NTVFS_CONFIG_DIR on the child only.
func RunCLIWithConfigDir(configDir string, args ...string) CLIResult {
	ctx, cancel := context.WithTimeout(context.Background(), CLITimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cliBinary, args...)
	// The CLI may spawn a background daemon that inherits the pipes; don't
	// wait on them forever once the CLI itself has exited.
	cmd.WaitDelay = 2 * time.Second

	env := filterEnvExcluding("NTVFS_CONFIG_DIR")
	if configDir != "" {
		env = append(env, "NTVFS_CONFIG_DIR="+configDir)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			exitCode = 124
			stderr.WriteString(fmt.Sprintf("\n[CLI TIMEOUT] Command timed out after %v: %v\n", CLITimeout, args))
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	return CLIResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Combined: stdout.String() + stderr.String(),
		ExitCode: exitCode,
	}
}

// WaitConfig configures waitFor
type WaitConfig struct {
	Name        string
	Timeout     time.Duration
	Poll        time.Duration
	LogInterval time.Duration
}

// waitFor polls check until it reports done or the timeout passes
func waitFor(t *testing.T, cfg WaitConfig, check func() (done bool, status string)) bool {
	if t != nil {
		t.Helper()
	}
	if cfg.Poll == 0 {
		cfg.Poll = 50 * time.Millisecond
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = 1 * time.Second
	}

	start := time.Now()
	deadline := start.Add(cfg.Timeout)
	lastLog := start

	for time.Now().Before(deadline) {
		done, status := check()
		if done {
			return true
		}
		if t != nil && time.Since(lastLog) >= cfg.LogInterval {
			t.Logf("[waitFor:%s] still waiting... (status: %s, elapsed: %v)", cfg.Name, status, time.Since(start))
			lastLog = time.Now()
		}
		time.Sleep(cfg.Poll)
	}

	_, finalStatus := check()
	if t != nil {
		t.Logf("[waitFor:%s] TIMEOUT after %v (final status: %s)", cfg.Name, cfg.Timeout, finalStatus)
	}
	return false
}

func waitForCondition(t *testing.T, name string, timeout time.Duration, condition func() bool) bool {
	return waitFor(t, WaitConfig{Name: name, Timeout: timeout}, func() (bool, string) {
		ok := condition()
		return ok, fmt.Sprintf("%v", ok)
	})
}
