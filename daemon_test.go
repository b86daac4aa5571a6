package main

import (
	"bytes"
	"os"
	"path"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/yunwei37/agentcgroup/cgroups"
	"github.com/yunwei37/agentcgroup/monitor"
)

// 把日志重定向到 buffer，测试结束后恢复
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	oldLevel := log.GetLevel()
	log.SetOutput(&buf)
	log.SetLevel(log.DebugLevel)
	t.Cleanup(func() {
		log.SetOutput(os.Stdout)
		log.SetLevel(oldLevel)
	})
	return &buf
}

func newTestDaemon(cgroupRoot string) *Daemon {
	return NewDaemon(cgroupRoot, "/nonexistent", "python,bash", false, false)
}

func TestHandleEventDispatch(t *testing.T) {
	buf := captureLogs(t)
	daemon := newTestDaemon(t.TempDir())

	daemon.handleEvent(&monitor.Event{Event: monitor.EventExec, Pid: 1001, Comm: "python"})
	if !strings.Contains(buf.String(), "tool call detected") {
		t.Errorf("EXEC event not logged: %s", buf.String())
	}

	buf.Reset()
	daemon.handleEvent(&monitor.Event{Event: monitor.EventExit, Pid: 1001, Comm: "bash", DurationMs: 1500})
	if !strings.Contains(buf.String(), "duration=1500ms") {
		t.Errorf("EXIT duration not logged: %s", buf.String())
	}

	buf.Reset()
	daemon.handleEvent(&monitor.Event{Event: monitor.EventExit, Pid: 1002, Comm: "bash"})
	if strings.Contains(buf.String(), "duration=") {
		t.Errorf("EXIT without duration should omit the suffix: %s", buf.String())
	}

	buf.Reset()
	daemon.handleEvent(&monitor.Event{Event: monitor.EventFileOpen, Pid: 1001, Comm: "python", Filepath: "/tmp/test.py"})
	if !strings.Contains(buf.String(), "FILE_OPEN") {
		t.Errorf("FILE_OPEN event not logged at debug: %s", buf.String())
	}

	buf.Reset()
	daemon.handleEvent(&monitor.Event{Event: monitor.EventBashReadline, Pid: 1001, Comm: "bash", Command: "ls"})
	if !strings.Contains(buf.String(), "BASH") {
		t.Errorf("BASH_READLINE event not logged at debug: %s", buf.String())
	}

	// 未知类型和缺字段的事件不崩溃
	daemon.handleEvent(&monitor.Event{Event: "UNKNOWN_TYPE", Pid: 1})
	daemon.handleEvent(&monitor.Event{Event: monitor.EventExec})
	daemon.handleEvent(&monitor.Event{})
}

func TestHandleEventDoesNotTouchCgroups(t *testing.T) {
	captureLogs(t)
	root := path.Join(t.TempDir(), "agentcg")
	if err := cgroups.SetupHierarchy(root); err != nil {
		t.Fatalf("setup hierarchy error: %v", err)
	}
	daemon := newTestDaemon(root)

	daemon.handleEvent(&monitor.Event{Event: monitor.EventExec, Pid: 9999, Comm: "python"})

	// per-tool-call 的 cgroup 归属由外部 wrapper 负责，事件处理不写 cgroup.procs
	procsFile := path.Join(root, cgroups.HighSession, cgroups.ProcsFile)
	if _, err := os.Stat(procsFile); err == nil {
		t.Errorf("EXEC event must not write %s", procsFile)
	}
}

func TestEventLoopStream(t *testing.T) {
	buf := captureLogs(t)
	daemon := newTestDaemon(t.TempDir())
	daemon.running.Store(true)

	readPipe, writePipe, err := os.Pipe()
	if err != nil {
		t.Fatalf("new pipe error: %v", err)
	}
	go func() {
		writePipe.WriteString(`{"event":"EXEC","pid":1001,"comm":"python","ppid":1}` + "\n")
		writePipe.WriteString("\n")
		writePipe.WriteString("not json\n")
		writePipe.WriteString(`{"event":"EXIT","pid":1001,"comm":"python","exit_code":0,"duration_ms":5000}` + "\n")
		writePipe.Close()
	}()

	if code := daemon.eventLoop(readPipe); code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}

	logged := buf.String()
	if !strings.Contains(logged, "tool call detected") {
		t.Errorf("EXEC event was not dispatched: %s", logged)
	}
	if !strings.Contains(logged, "duration=5000ms") {
		t.Errorf("EXIT event was not dispatched: %s", logged)
	}
}

func TestEventLoopSkipsOversizedLine(t *testing.T) {
	buf := captureLogs(t)
	daemon := newTestDaemon(t.TempDir())
	daemon.running.Store(true)

	readPipe, writePipe, err := os.Pipe()
	if err != nil {
		t.Fatalf("new pipe error: %v", err)
	}
	go func() {
		// 超过 bufio 默认缓冲的一整行垃圾不能让循环误判监控进程退出
		writePipe.WriteString(strings.Repeat("x", 70*1024) + "\n")
		writePipe.WriteString(`{"event":"EXEC","pid":1001,"comm":"python"}` + "\n")
		writePipe.Close()
	}()

	if code := daemon.eventLoop(readPipe); code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(buf.String(), "tool call detected") {
		t.Errorf("event after oversized line was not dispatched: %s", buf.String())
	}
}
