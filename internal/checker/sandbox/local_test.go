package sandbox_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"checkhub/internal/checker/sandbox"
)

func newLocalExecutor(t *testing.T, limits sandbox.Limits) *sandbox.LocalExecutor {
	t.Helper()
	exec, err := sandbox.NewLocalExecutor(limits)
	if err != nil {
		t.Fatalf("new local executor failed: %v", err)
	}
	t.Cleanup(func() { _ = exec.Close() })
	return exec
}

func TestLocalExecutorFileRoundTrip(t *testing.T) {
	t.Parallel()
	exec := newLocalExecutor(t, sandbox.Limits{})
	ctx := context.Background()

	if err := exec.WriteFile(ctx, "dir/solution.py", "print(0)"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	content, err := exec.ReadFile(ctx, "dir/solution.py")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if content != "print(0)" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestLocalExecutorJailsEscapingPath(t *testing.T) {
	t.Parallel()
	exec := newLocalExecutor(t, sandbox.Limits{})
	if err := exec.WriteFile(context.Background(), "../escape.txt", "nope"); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The parent-directory hop is stripped; the file stays inside the
	// working directory.
	if _, err := os.Stat(filepath.Join(exec.Dir(), "escape.txt")); err != nil {
		t.Fatalf("file should be jailed inside the working directory: %v", err)
	}
}

func TestLocalExecutorRun(t *testing.T) {
	t.Parallel()
	exec := newLocalExecutor(t, sandbox.Limits{})
	out, err := exec.Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if strings.TrimSpace(out.Stdout) != "out" {
		t.Fatalf("unexpected stdout %q", out.Stdout)
	}
	if strings.TrimSpace(out.Stderr) != "err" {
		t.Fatalf("unexpected stderr %q", out.Stderr)
	}
	if out.ExitCode != 0 || out.TimedOut {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestLocalExecutorExitCode(t *testing.T) {
	t.Parallel()
	exec := newLocalExecutor(t, sandbox.Limits{})
	out, err := exec.Run(context.Background(), "sh", "-c", "exit 3")
	if err != nil {
		t.Fatalf("nonzero exit is not a run error: %v", err)
	}
	if out.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", out.ExitCode)
	}
}

func TestLocalExecutorTimeout(t *testing.T) {
	t.Parallel()
	exec := newLocalExecutor(t, sandbox.Limits{Timeout: 50 * time.Millisecond})
	out, err := exec.Run(context.Background(), "sleep", "5")
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !out.TimedOut {
		t.Fatal("expected TimedOut to be set")
	}
}

func TestLocalExecutorMissingCommand(t *testing.T) {
	t.Parallel()
	exec := newLocalExecutor(t, sandbox.Limits{})
	if _, err := exec.Run(context.Background()); err == nil {
		t.Fatal("empty args should be rejected")
	}
}

func TestFactoryRefusesLocalWithoutOptIn(t *testing.T) {
	t.Parallel()
	// Local backend without the explicit opt-in must not produce a host
	// executor; the factory falls back to docker, which fails here because
	// no docker client is configured.
	factory := sandbox.NewFactory(sandbox.Config{Backend: sandbox.BackendLocal}, nil)
	if _, err := factory.New(context.Background()); err == nil {
		t.Fatal("expected docker fallback to fail without a client")
	}
}

func TestFactoryAllowsLocalWhenOptedIn(t *testing.T) {
	t.Parallel()
	factory := sandbox.NewFactory(sandbox.Config{Backend: sandbox.BackendLocal, AllowLocal: true}, nil)
	exec, err := factory.New(context.Background())
	if err != nil {
		t.Fatalf("local executor should be available: %v", err)
	}
	defer exec.Close()
	if _, ok := exec.(*sandbox.LocalExecutor); !ok {
		t.Fatalf("expected a local executor, got %T", exec)
	}
}
