package supervisor

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestSignalRouterReload(t *testing.T) {
	r := NewSignalRouter()
	defer r.Close()

	if r.TakeReload() {
		t.Fatal("fresh router has reload flag set")
	}

	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !r.TakeReload() {
		if time.Now().After(deadline) {
			t.Fatal("SIGHUP did not set the reload flag")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// 标志被消费之后保持清零
	if r.TakeReload() {
		t.Error("reload flag set twice for one signal")
	}

	if r.ShutdownRequested() {
		t.Error("SIGHUP set the shutdown flag")
	}
}

func TestSignalRouterShutdown(t *testing.T) {
	r := NewSignalRouter()
	defer r.Close()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !r.ShutdownRequested() {
		if time.Now().After(deadline) {
			t.Fatal("SIGTERM did not set the shutdown flag")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSignalRouterManualRequests(t *testing.T) {
	r := NewSignalRouter()
	defer r.Close()

	r.RequestReload()
	if !r.TakeReload() {
		t.Error("RequestReload did not set the flag")
	}

	r.RequestShutdown()
	if !r.ShutdownRequested() {
		t.Error("RequestShutdown did not set the flag")
	}
}

func TestConfigWatcherTriggersReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskmaster.yml")
	if err := os.WriteFile(path, []byte("programs:\n"), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewSignalRouter()
	defer r.Close()

	w, err := WatchConfig(path, r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("logging_enabled: true\nprograms:\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !r.TakeReload() {
		if time.Now().After(deadline) {
			t.Fatal("config write did not set the reload flag")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
