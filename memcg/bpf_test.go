package memcg

import (
	"fmt"
	"os"
	"path"
	"strings"
	"testing"
	"time"
)

// 写一个假的 memcg_priority 可执行脚本
func writeStubBinary(t *testing.T, binary, script string) {
	t.Helper()
	if err := os.MkdirAll(path.Dir(binary), 0755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(binary, []byte(script), 0755); err != nil {
		t.Fatalf("write stub binary error: %v", err)
	}
}

func TestBpfAttachBuildsArgs(t *testing.T) {
	dir := t.TempDir()
	binary := path.Join(dir, "memcg_priority")
	argsFile := path.Join(dir, "args")
	writeStubBinary(t, binary, fmt.Sprintf("#!/bin/sh\necho \"$@\" > %s\nsleep 60\n", argsFile))

	ctrl := NewBpfController(binary)
	config := DefaultConfig("/sys/fs/cgroup/high", []string{"/sys/fs/cgroup/low"})
	if err := ctrl.Attach(config); err != nil {
		t.Fatalf("attach error: %v", err)
	}
	defer ctrl.Detach()

	var args string
	for i := 0; i < 50; i++ {
		raw, err := os.ReadFile(argsFile)
		if err == nil && len(raw) > 0 {
			args = string(raw)
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if args == "" {
		t.Fatalf("stub binary never wrote its args")
	}

	for _, want := range []string{
		"--high /sys/fs/cgroup/high",
		"--low /sys/fs/cgroup/low",
		"--delay-ms 50",
		"--threshold 1",
		"--below-low",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}
}

func TestBpfAttachMissingBinary(t *testing.T) {
	ctrl := NewBpfController("/nonexistent/memcg_priority")
	config := DefaultConfig("/sys/fs/cgroup/high", nil)
	if err := ctrl.Attach(config); err == nil {
		t.Errorf("expected attach error for missing binary")
	}
}

func TestBpfDetachStopsProcess(t *testing.T) {
	dir := t.TempDir()
	binary := path.Join(dir, "memcg_priority")
	writeStubBinary(t, binary, "#!/bin/sh\nsleep 60\n")

	ctrl := NewBpfController(binary)
	if err := ctrl.Attach(DefaultConfig("/high", []string{"/low"})); err != nil {
		t.Fatalf("attach error: %v", err)
	}
	if !ctrl.Stats()["running"].(bool) {
		t.Fatalf("process should be running after attach")
	}

	ctrl.Detach()
	if ctrl.Stats()["running"].(bool) {
		t.Errorf("process should be stopped after detach")
	}
	// 重复 detach 安全
	ctrl.Detach()
}

func TestFactorySelectsBpf(t *testing.T) {
	dir := t.TempDir()
	writeStubBinary(t, path.Join(dir, "memcg", "memcg_priority"), "#!/bin/sh\n")

	ctrl := NewController(dir)
	if ctrl.BackendName() != "bpf" {
		t.Errorf("expected bpf backend, got %s", ctrl.BackendName())
	}
}

func TestFactoryFallsBackToCgroup(t *testing.T) {
	ctrl := NewController(t.TempDir())
	if ctrl.BackendName() != "cgroup" {
		t.Errorf("expected cgroup backend, got %s", ctrl.BackendName())
	}
}

func TestFactoryIgnoresNonExecutable(t *testing.T) {
	dir := t.TempDir()
	binary := path.Join(dir, "memcg", "memcg_priority")
	if err := os.MkdirAll(path.Dir(binary), 0755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(binary, []byte("not executable"), 0644); err != nil {
		t.Fatalf("write file error: %v", err)
	}

	ctrl := NewController(dir)
	if ctrl.BackendName() != "cgroup" {
		t.Errorf("expected cgroup backend for non-executable file, got %s", ctrl.BackendName())
	}
}
