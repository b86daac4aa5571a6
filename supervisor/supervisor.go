package supervisor

import (
	"io"
	"os/exec"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// 优雅退出的等待时长，超时后强杀
const stopTimeout = 5 * time.Second

type child struct {
	cmd *exec.Cmd
	// Wait 返回后关闭，用于探测进程是否退出
	done chan struct{}
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Manager 按名字管理一组子进程，负责启动、健康检查和优雅停止
type Manager struct {
	mu       sync.Mutex
	children map[string]*child
}

func NewManager() *Manager {
	return &Manager{
		children: make(map[string]*child),
	}
}

// 启动一个命名子进程，stdout 为 nil 时继承父进程的标准输出
// 启动失败返回 nil，由调用方决定该进程是否必需
func (m *Manager) Start(name string, argv []string, stdout io.Writer) *exec.Cmd {
	if len(argv) == 0 {
		log.Errorf("start %s error: empty argv", name)
		return nil
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if err := cmd.Start(); err != nil {
		log.Errorf("start %s (%s) error %v", name, argv[0], err)
		return nil
	}

	c := &child{cmd: cmd, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(c.done)
	}()

	m.mu.Lock()
	m.children[name] = c
	m.mu.Unlock()
	log.Infof("started %s (pid %d)", name, cmd.Process.Pid)
	return cmd
}

// 返回已经退出的子进程名字，不从注册表中移除
func (m *Manager) CheckHealth() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dead []string
	for name, c := range m.children {
		if c.exited() {
			dead = append(dead, name)
		}
	}
	return dead
}

// 优雅停止所有子进程：先发 SIGTERM，每个进程最多等 5 秒，仍存活则强杀
// 无论结果如何注册表都被清空
func (m *Manager) StopAll() {
	m.mu.Lock()
	children := m.children
	m.children = make(map[string]*child)
	m.mu.Unlock()

	for name, c := range children {
		if !c.exited() {
			log.Infof("stopping %s (pid %d)", name, c.cmd.Process.Pid)
			c.cmd.Process.Signal(unix.SIGTERM)
		}
	}

	for name, c := range children {
		select {
		case <-c.done:
		case <-time.After(stopTimeout):
			log.Warnf("force killing %s (pid %d)", name, c.cmd.Process.Pid)
			c.cmd.Process.Kill()
			<-c.done
		}
	}
}
