package memcg

import (
	"fmt"
	"os/exec"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// 等待 BPF 程序优雅退出的时长，超时后强杀
const bpfStopTimeout = 5 * time.Second

// BpfController 把控制逻辑委托给 memcg_priority eBPF 程序
type BpfController struct {
	binary string
	cmd    *exec.Cmd
	done   chan struct{}
	config *Config
}

func NewBpfController(binary string) *BpfController {
	return &BpfController{binary: binary}
}

func (c *BpfController) BackendName() string {
	return "bpf"
}

func (c *BpfController) Attach(config *Config) error {
	c.config = config
	args := []string{"--high", config.HighCgroup}
	for _, low := range config.LowCgroups {
		args = append(args, "--low", low)
	}
	args = append(args, "--delay-ms", strconv.Itoa(config.DelayMs))
	args = append(args, "--threshold", strconv.Itoa(config.Threshold))
	if config.UseBelowLow {
		args = append(args, "--below-low")
	}

	cmd := exec.Command(c.binary, args...)
	if err := cmd.Start(); err != nil {
		log.Errorf("start bpf memcg %s error %v", c.binary, err)
		return fmt.Errorf("start bpf memcg error %v", err)
	}
	c.cmd = cmd
	c.done = make(chan struct{})
	go func(cmd *exec.Cmd, done chan struct{}) {
		cmd.Wait()
		close(done)
	}(cmd, c.done)
	log.Infof("bpf memcg started (pid %d)", cmd.Process.Pid)
	return nil
}

func (c *BpfController) Detach() {
	if c.cmd != nil && !c.exited() {
		log.Infof("stopping bpf memcg (pid %d)", c.cmd.Process.Pid)
		c.cmd.Process.Signal(unix.SIGTERM)
		select {
		case <-c.done:
		case <-time.After(bpfStopTimeout):
			c.cmd.Process.Kill()
			<-c.done
		}
	}
	c.cmd = nil
	c.done = nil
}

func (c *BpfController) Poll() {
	// 控制逻辑在 BPF 程序内部运行，这里只检查进程存活
	if c.cmd != nil && c.exited() {
		log.Warnf("bpf memcg process exited unexpectedly (%v)", c.cmd.ProcessState)
	}
}

func (c *BpfController) Stats() map[string]interface{} {
	return map[string]interface{}{
		"backend": "bpf",
		"running": c.cmd != nil && !c.exited(),
	}
}

func (c *BpfController) exited() bool {
	if c.done == nil {
		return true
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
