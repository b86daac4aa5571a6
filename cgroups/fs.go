package cgroups

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// cgroup v2 统一层级下的控制文件名
const (
	ProcsFile          = "cgroup.procs"
	SubtreeControlFile = "cgroup.subtree_control"
	CpuWeightFile      = "cpu.weight"
	MemoryLowFile      = "memory.low"
	MemoryHighFile     = "memory.high"
	MemoryMaxFile      = "memory.max"
	MemoryCurrentFile  = "memory.current"
	MemoryEventsFile   = "memory.events"
	MemoryPressureFile = "memory.pressure"
)

// 读取 cgroup 控制文件内容，去掉末尾空白字符
func Read(cgroupPath, file string) (string, error) {
	raw, err := os.ReadFile(path.Join(cgroupPath, file))
	if err != nil {
		return "", fmt.Errorf("read cgroup file %s error %v", path.Join(cgroupPath, file), err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// 写入 cgroup 控制文件
func Write(cgroupPath, file, value string) error {
	filePath := path.Join(cgroupPath, file)
	if err := os.WriteFile(filePath, []byte(value), 0644); err != nil {
		log.Warnf("write '%s' to %s error %v", value, filePath, err)
		return fmt.Errorf("write cgroup file %s error %v", filePath, err)
	}
	return nil
}

// 解析 memory.events 中的各个计数器（low high max oom oom_kill）
// 读取失败时返回空 map
func ReadMemoryEvents(cgroupPath string) map[string]int64 {
	events := make(map[string]int64)
	raw, err := Read(cgroupPath, MemoryEventsFile)
	if err != nil {
		return events
	}
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		count, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		events[fields[0]] = count
	}
	return events
}

// 读取 memory.pressure 中 some 行的 total= 累计阻塞时间（微秒）
func ReadPSITotal(cgroupPath string) int64 {
	raw, err := Read(cgroupPath, MemoryPressureFile)
	if err != nil {
		return 0
	}
	// 格式: "some avg10=X avg60=X avg300=X total=N"
	for _, line := range strings.Split(raw, "\n") {
		if !strings.HasPrefix(line, "some ") {
			continue
		}
		for _, part := range strings.Fields(line) {
			if strings.HasPrefix(part, "total=") {
				total, err := strconv.ParseInt(strings.TrimPrefix(part, "total="), 10, 64)
				if err == nil {
					return total
				}
			}
		}
	}
	return 0
}

// 读取 memory.current 当前内存用量（字节）
func ReadMemoryCurrent(cgroupPath string) (int64, bool) {
	raw, err := Read(cgroupPath, MemoryCurrentFile)
	if err != nil {
		return 0, false
	}
	current, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return current, true
}

// 读取 memory.max 内存上限（字节）
// 字面值 "max" 表示没有限制，返回 (0, false) 而不是错误
func ReadMemoryLimit(cgroupPath string) (int64, bool) {
	raw, err := Read(cgroupPath, MemoryMaxFile)
	if err != nil || raw == "max" {
		return 0, false
	}
	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return limit, true
}
