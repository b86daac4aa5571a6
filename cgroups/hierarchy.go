package cgroups

import (
	"fmt"
	"os"
	"path"
	"strconv"

	log "github.com/sirupsen/logrus"
)

const (
	// 默认的 cgroup 层级根目录
	DefaultRoot = "/sys/fs/cgroup/agentcg"
	// HIGH 优先级会话 cgroup 目录名
	HighSession = "session_high"
	// LOW 优先级会话 cgroup 目录名
	LowSession = "session_low"

	highCpuWeight = "150"
	lowCpuWeight  = "50"
)

// 创建 cgroup 目录，已存在则直接返回
func Create(cgroupPath string) error {
	if err := os.MkdirAll(cgroupPath, 0755); err != nil {
		return fmt.Errorf("create cgroup %s error %v", cgroupPath, err)
	}
	return nil
}

// 将进程 PID 加入到 cgroup 中
func AssignPid(cgroupPath string, pid int) error {
	return Write(cgroupPath, ProcsFile, strconv.Itoa(pid))
}

// 创建 session_high 和 session_low 组成的 cgroup 层级
// 在根和 session_high 上开启 memory、cpu 控制器，
// session_high 开启后 bash wrapper 才能在其中创建 per-tool-call 子 cgroup
func SetupHierarchy(root string) error {
	high := path.Join(root, HighSession)
	low := path.Join(root, LowSession)

	if err := Create(high); err != nil {
		return err
	}
	if err := Create(low); err != nil {
		return err
	}

	// 控制文件写入失败不算致命错误，非 cgroup 文件系统上会失败
	Write(root, SubtreeControlFile, "+memory +cpu")
	Write(high, SubtreeControlFile, "+memory +cpu")

	// 设置 CPU 权重，值越大分到的 CPU 时间越多
	Write(high, CpuWeightFile, highCpuWeight)
	Write(low, CpuWeightFile, lowCpuWeight)

	log.Infof("cgroup hierarchy ready at %s", root)
	return nil
}
