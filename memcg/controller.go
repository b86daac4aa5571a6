package memcg

import (
	"os"
	"path"
	"time"

	log "github.com/sirupsen/logrus"
)

// 每次 attach 的配置参数
type Config struct {
	HighCgroup       string        // HIGH 优先级 cgroup 路径
	LowCgroups       []string      // LOW 优先级 cgroup 路径列表
	DelayMs          int           // BPF: LOW cgroup 超过 high 水位后的延迟
	Threshold        int           // 触发保护的事件计数阈值
	UseBelowLow      bool          // BPF: 启用 below_low 回调
	ProtectionWindow time.Duration // 保护状态持续时长
}

// 默认配置
func DefaultConfig(highCgroup string, lowCgroups []string) *Config {
	return &Config{
		HighCgroup:       highCgroup,
		LowCgroups:       lowCgroups,
		DelayMs:          50,
		Threshold:        1,
		UseBelowLow:      true,
		ProtectionWindow: time.Second,
	}
}

// Controller 内存 cgroup 优先级控制的统一接口
// 两种实现：BpfController 包装 memcg_priority eBPF 程序，
// CgroupController 用标准 cgroup v2 memory.low / memory.high 实现回退逻辑
type Controller interface {
	// 开始保护 HIGH、限制 LOW
	Attach(config *Config) error
	// 停止保护并恢复默认值，可重复调用
	Detach()
	// 由事件循环周期性调用，执行监控逻辑
	Poll()
	// 返回后端相关的统计信息
	Stats() map[string]interface{}
	// 后端名称
	BackendName() string
}

// 自动探测可用的后端：BPF 二进制存在且可执行就用 BPF，否则用 cgroup v2 回退
func NewController(binDir string) Controller {
	bpfBin := path.Join(binDir, "memcg", "memcg_priority")
	if info, err := os.Stat(bpfBin); err == nil && info.Mode().IsRegular() && info.Mode()&0111 != 0 {
		log.Infof("using bpf memcg controller (%s)", bpfBin)
		return NewBpfController(bpfBin)
	}
	log.Infof("bpf memcg binary not found, using cgroup v2 fallback")
	return NewCgroupController()
}
