package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/yunwei37/agentcgroup/cgroups"
	"github.com/yunwei37/agentcgroup/memcg"
	"github.com/yunwei37/agentcgroup/monitor"
	"github.com/yunwei37/agentcgroup/supervisor"
)

// 子进程健康检查的周期
const healthCheckInterval = 5 * time.Second

// Daemon 把 cgroup 层级、CPU 调度器、内存控制器和进程监控
// 组织成一个守护进程生命周期
type Daemon struct {
	cgroupRoot      string
	binDir          string
	commands        string
	enableScheduler bool
	enableMemcg     bool

	manager *supervisor.Manager
	memcg   memcg.Controller
	running atomic.Bool
}

func NewDaemon(cgroupRoot, binDir, commands string, enableScheduler, enableMemcg bool) *Daemon {
	return &Daemon{
		cgroupRoot:      cgroupRoot,
		binDir:          binDir,
		commands:        commands,
		enableScheduler: enableScheduler,
		enableMemcg:     enableMemcg,
		manager:         supervisor.NewManager(),
	}
}

// 启动所有组件并进入事件循环，返回进程退出码
func (d *Daemon) Run() int {
	d.running.Store(true)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received signal %v, shutting down...", sig)
		d.running.Store(false)
	}()

	// 第一步：创建 cgroup 层级，失败则直接退出
	if err := cgroups.SetupHierarchy(d.cgroupRoot); err != nil {
		log.Errorf("setup cgroup hierarchy error %v", err)
		return 1
	}

	// 第二步：启动 CPU 调度器，失败降级继续
	if d.enableScheduler {
		schedBin := path.Join(d.binDir, "scheduler", "scx_flatcg")
		if d.manager.Start("scheduler", []string{schedBin, "-i", "5"}, nil) == nil {
			log.Warnf("scheduler failed to start, continuing without it")
		}
	}

	// 第三步：挂载内存隔离，自动探测 BPF 或 cgroup 回退，失败降级继续
	if d.enableMemcg {
		controller := memcg.NewController(d.binDir)
		config := memcg.DefaultConfig(
			path.Join(d.cgroupRoot, cgroups.HighSession),
			[]string{path.Join(d.cgroupRoot, cgroups.LowSession)},
		)
		if err := controller.Attach(config); err != nil {
			log.Warnf("memcg (%s) failed to attach, continuing without it", controller.BackendName())
		} else {
			d.memcg = controller
			log.Infof("memcg active: backend=%s", controller.BackendName())
		}
	}

	// 等待 BPF 程序完成挂载
	time.Sleep(time.Second)

	// 第四步：启动进程监控，它的标准输出是逐行的 JSON 事件流
	// 监控进程启动失败是致命错误
	readPipe, writePipe, err := os.Pipe()
	if err != nil {
		log.Errorf("new pipe error %v", err)
		d.teardown()
		return 1
	}
	procBin := path.Join(d.binDir, "process", "process")
	cmd := d.manager.Start("process", []string{procBin, "-m", "2", "-c", d.commands}, writePipe)
	writePipe.Close()
	if cmd == nil {
		log.Errorf("process monitor failed to start")
		readPipe.Close()
		d.teardown()
		return 1
	}

	log.Infof("all components started")
	return d.eventLoop(readPipe)
}

// 事件循环：读取监控事件、驱动内存控制器、周期性健康检查
// 每轮迭代唯一的阻塞点是对监控管道的行读取
// 用 ReadString 而不是 Scanner 逐行读取，超长行只会解析失败被丢弃，
// 不会被误判成监控进程退出
func (d *Daemon) eventLoop(out *os.File) int {
	defer out.Close()
	reader := bufio.NewReader(out)
	lastHealthCheck := time.Now()

	for d.running.Load() {
		line, err := reader.ReadString('\n')
		if line != "" {
			if event := monitor.Parse(line); event != nil {
				d.handleEvent(event)
			}
		}

		// 驱动内存控制器（cgroup 回退后端在这里做压力检测）
		if d.memcg != nil {
			d.memcg.Poll()
		}

		if now := time.Now(); now.Sub(lastHealthCheck) >= healthCheckInterval {
			lastHealthCheck = now
			for _, name := range d.manager.CheckHealth() {
				log.Warnf("%s has exited unexpectedly", name)
			}
		}

		// 管道关闭说明监控进程已经退出
		if err != nil {
			if d.running.Load() {
				log.Errorf("process monitor exited unexpectedly")
			}
			break
		}
	}

	d.teardown()
	log.Infof("shutdown complete")
	return 0
}

func (d *Daemon) teardown() {
	if d.memcg != nil {
		d.memcg.Detach()
		d.memcg = nil
	}
	d.manager.StopAll()
}

// 监控事件只用于观测记录，per-tool-call 的 cgroup 归属由外部 wrapper 负责
func (d *Daemon) handleEvent(event *monitor.Event) {
	switch event.Event {
	case monitor.EventExec:
		log.Infof("EXEC: %s (%d) - tool call detected", event.Comm, event.Pid)
	case monitor.EventExit:
		extra := ""
		if event.DurationMs > 0 {
			extra = fmt.Sprintf(" (duration=%dms)", event.DurationMs)
		}
		log.Infof("EXIT: %s (%d)%s", event.Comm, event.Pid, extra)
	case monitor.EventFileOpen:
		log.Debugf("FILE_OPEN: %s (%d) %s", event.Comm, event.Pid, event.Filepath)
	case monitor.EventBashReadline:
		log.Debugf("BASH: %s (%d) %s", event.Comm, event.Pid, event.Command)
	}
}
