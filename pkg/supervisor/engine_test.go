package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"syscall"
	"testing"
	"time"

	"taskmaster/pkg/config"
)

func sleepProgram(t *testing.T, name string, instances int) *config.ProgramConfig {
	t.Helper()

	dir := t.TempDir()

	return &config.ProgramConfig{
		Name:              name,
		Command:           "sleep 60",
		Instances:         instances,
		AutoStart:         true,
		AutoRestart:       config.RestartNever,
		StartTime:         1,
		StopTime:          5,
		RestartAttempts:   0,
		StopSignal:        "SIGTERM",
		Signal:            syscall.SIGTERM,
		ExpectedExitCodes: []int{0},
		WorkingDirectory:  dir,
		Umask:             -1,
		StdoutLog:         filepath.Join(dir, "out.log"),
		StderrLog:         filepath.Join(dir, "err.log"),
		Env:               map[string]string{},
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "prog.sh")
	script := "#!/bin/sh\n" + body + "\n"

	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	return path
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}

func mustStart(t *testing.T, e *Engine) {
	t.Helper()

	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func TestEngineStartStop(t *testing.T) {
	e := NewEngine(sleepProgram(t, "sleep", 2), nil)
	defer e.Stop()

	mustStart(t, e)

	if got := e.Status(); got != "2 out of 2 instances running" {
		t.Errorf("Status = %q", got)
	}
	if !e.IsRunning() {
		t.Error("IsRunning = false after Start")
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := e.Status(); got != "0 out of 2 instances running" {
		t.Errorf("Status after stop = %q", got)
	}
	if !e.replicas.IsEmpty() {
		t.Error("replicas not empty after Stop")
	}
	if e.monitorRunning.Load() {
		t.Error("monitor still running after Stop")
	}
}

func TestEngineStartIdempotent(t *testing.T) {
	e := NewEngine(sleepProgram(t, "sleep", 2), nil)
	defer e.Stop()

	mustStart(t, e)
	before := e.replicas.Snapshot()

	mustStart(t, e)
	after := e.replicas.Snapshot()

	if !slices.Equal(before, after) {
		t.Errorf("second Start changed replicas: %v -> %v", before, after)
	}
}

func TestEngineStopIdempotent(t *testing.T) {
	e := NewEngine(sleepProgram(t, "sleep", 1), nil)

	mustStart(t, e)

	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}

	if !e.replicas.IsEmpty() {
		t.Error("replicas not empty")
	}
}

func TestEngineRefusesZeroInstances(t *testing.T) {
	e := NewEngine(sleepProgram(t, "zero", 0), nil)

	err := e.Start()

	var serr *StartError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want *StartError", err)
	}
}

func TestEngineGracefulThenForcefulStop(t *testing.T) {
	// 程序无视SIGTERM，优雅预算耗尽后必须升级到SIGKILL
	cfg := sleepProgram(t, "stubborn", 1)
	cfg.Command = writeScript(t, `trap '' TERM
sleep 60`)
	cfg.StopTime = 3

	e := NewEngine(cfg, nil)

	mustStart(t, e)

	done := make(chan struct{})
	go func() {
		_ = e.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return")
	}

	if !e.replicas.IsEmpty() {
		t.Error("replicas not empty after escalated stop")
	}
}

func TestEngineStartGraceExhaustion(t *testing.T) {
	// 子进程立即退出，重试预算耗尽后引擎回到Idle
	cfg := sleepProgram(t, "flappy", 1)
	cfg.Command = "/bin/true"
	cfg.AutoRestart = config.RestartAlways
	cfg.RestartAttempts = 1

	e := NewEngine(cfg, nil)

	err := e.Start()

	var serr *StartError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want *StartError", err)
	}

	if !e.replicas.IsEmpty() {
		t.Error("replicas not empty after exhausted start")
	}

	waitFor(t, 2*time.Second, "monitor exit", func() bool {
		return !e.monitorRunning.Load()
	})
}

// onceScript 第一次运行退出code，之后一直睡眠
func onceScript(t *testing.T, code int) string {
	t.Helper()

	marker := filepath.Join(t.TempDir(), "ran")

	return writeScript(t, fmt.Sprintf(`if [ ! -f %s ]; then
touch %s
sleep 0.3
exit %d
fi
sleep 60`, marker, marker, code))
}

func TestAutoRestartUnexpectedCode(t *testing.T) {
	cfg := sleepProgram(t, "unexpected", 1)
	cfg.Command = onceScript(t, 2)
	cfg.AutoRestart = config.RestartUnexpected
	cfg.StartTime = 0

	e := NewEngine(cfg, nil)
	defer e.Stop()

	mustStart(t, e)
	first := e.replicas.Snapshot()

	// 退出码2不在期望列表里，监控要补位
	waitFor(t, 5*time.Second, "replacement replica", func() bool {
		snap := e.replicas.Snapshot()
		return len(snap) == 1 && !slices.Equal(snap, first)
	})
}

func TestAutoRestartExpectedCode(t *testing.T) {
	cfg := sleepProgram(t, "expected", 1)
	cfg.Command = onceScript(t, 0)
	cfg.AutoRestart = config.RestartUnexpected
	cfg.StartTime = 0

	e := NewEngine(cfg, nil)
	defer e.Stop()

	mustStart(t, e)

	// 退出码0在期望列表里，不补位
	waitFor(t, 3*time.Second, "replica exit", func() bool {
		return e.replicas.IsEmpty()
	})

	time.Sleep(500 * time.Millisecond)

	if !e.replicas.IsEmpty() {
		t.Error("expected exit was restarted")
	}
}

func TestAutoRestartAlways(t *testing.T) {
	cfg := sleepProgram(t, "always", 1)
	cfg.Command = onceScript(t, 0)
	cfg.AutoRestart = config.RestartAlways
	cfg.StartTime = 0

	e := NewEngine(cfg, nil)
	defer e.Stop()

	mustStart(t, e)
	first := e.replicas.Snapshot()

	// 就算退出码在期望列表里，always也要补位
	waitFor(t, 5*time.Second, "replacement replica", func() bool {
		snap := e.replicas.Snapshot()
		return len(snap) == 1 && !slices.Equal(snap, first)
	})
}

func TestStopInstanceRemovesNewest(t *testing.T) {
	e := NewEngine(sleepProgram(t, "scale", 2), nil)
	defer e.Stop()

	mustStart(t, e)
	before := e.replicas.Snapshot()

	if err := e.StopInstance(); err != nil {
		t.Fatal(err)
	}

	after := e.replicas.Snapshot()
	if len(after) != 1 || after[0] != before[0] {
		t.Errorf("after StopInstance: %v, want [%d]", after, before[0])
	}
}

func TestEngineScaleUpKeepsExisting(t *testing.T) {
	cfg := sleepProgram(t, "grow", 1)
	e := NewEngine(cfg, nil)
	defer e.Stop()

	mustStart(t, e)
	p1 := e.replicas.Snapshot()[0]

	bigger := *cfg
	bigger.Instances = 3

	if err := e.Scale(&bigger); err != nil {
		t.Fatalf("Scale failed: %v", err)
	}

	snap := e.replicas.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("got %d replicas, want 3", len(snap))
	}
	if !slices.Contains(snap, p1) {
		t.Errorf("pre-existing pid %d was restarted during scale-up", p1)
	}
}

func TestEngineScaleDown(t *testing.T) {
	cfg := sleepProgram(t, "shrink", 3)
	e := NewEngine(cfg, nil)
	defer e.Stop()

	mustStart(t, e)
	oldest := e.replicas.Snapshot()[0]

	smaller := *cfg
	smaller.Instances = 1

	if err := e.Scale(&smaller); err != nil {
		t.Fatalf("Scale failed: %v", err)
	}

	snap := e.replicas.Snapshot()
	if len(snap) != 1 || snap[0] != oldest {
		t.Errorf("after scale-down: %v, want [%d]", snap, oldest)
	}
}

func TestEngineReloadNoChanges(t *testing.T) {
	cfg := sleepProgram(t, "same", 2)
	e := NewEngine(cfg, nil)
	defer e.Stop()

	mustStart(t, e)
	before := e.replicas.Snapshot()

	same := *cfg
	if err := e.Reload(&same); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if !slices.Equal(before, e.replicas.Snapshot()) {
		t.Error("reload with unchanged config touched replicas")
	}
}

func TestEngineReloadCommandChange(t *testing.T) {
	cfg := sleepProgram(t, "swap", 1)
	e := NewEngine(cfg, nil)
	defer e.Stop()

	mustStart(t, e)
	p1 := e.replicas.Snapshot()[0]

	changed := *cfg
	changed.Command = "sleep 61"

	if err := e.Reload(&changed); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	snap := e.replicas.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("got %d replicas, want 1", len(snap))
	}
	if snap[0] == p1 {
		t.Error("replica survived a command change")
	}
	if e.Config().Command != "sleep 61" {
		t.Errorf("config not swapped: %q", e.Config().Command)
	}
}

func TestEngineReloadHotUmask(t *testing.T) {
	cfg := sleepProgram(t, "hot", 1)
	e := NewEngine(cfg, nil)
	defer e.Stop()

	mustStart(t, e)
	before := e.replicas.Snapshot()

	hot := *cfg
	hot.Umask = 0o22

	if err := e.Reload(&hot); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if !slices.Equal(before, e.replicas.Snapshot()) {
		t.Error("umask-only reload touched replicas")
	}
	if e.Config().Umask != 0o22 {
		t.Errorf("umask not applied: %d", e.Config().Umask)
	}
}

func TestRestartEqualsStopStart(t *testing.T) {
	cfg := sleepProgram(t, "cycle", 2)
	e := NewEngine(cfg, nil)
	defer e.Stop()

	mustStart(t, e)
	before := e.replicas.Snapshot()

	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	mustStart(t, e)

	after := e.replicas.Snapshot()
	if len(after) != 2 {
		t.Fatalf("got %d replicas, want 2", len(after))
	}

	for _, pid := range before {
		if slices.Contains(after, pid) {
			t.Errorf("pid %d survived stop+start", pid)
		}
	}
}
