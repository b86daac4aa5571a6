package memcg

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yunwei37/agentcgroup/cgroups"
)

// 父 cgroup 用量达到 memory.max 的这个比例时触发保护
const pressureRatio = 0.85

// per-tool-call 子 cgroup 的目录名前缀，由 bash wrapper 创建
const toolCgroupPrefix = "tool_"

// CgroupController 用标准 cgroup v2 控制文件近似 BPF 的行为
//
// 正常状态:
//	HIGH  memory.low = 0     （无特殊保护）
//	LOW   memory.high = max  （不限流）
//
// 保护状态（检测到内存压力）:
//	HIGH  memory.low = <大值>   （内核保护其不被回收）
//	LOW   memory.high = <小值>  （内核限制其分配速度）
//
// 压力检测按固定顺序评估三个信号，任何一个命中即触发:
//	1. memory.events 的 high 计数增加（需要某个祖先设置了 memory.high）
//	2. memory.pressure PSI 累计阻塞时间增加（标准内核即可）
//	3. 父 cgroup 的 memory.current 超过 memory.max 的 pressureRatio
type CgroupController struct {
	config           *Config
	protectionActive bool
	protectionStart  time.Time
	lastHighEvents   int64
	lastPSITotal     int64
	activations      int
	lastTrigger      string
	knownToolCgroups map[string]struct{}
}

func NewCgroupController() *CgroupController {
	return &CgroupController{
		knownToolCgroups: make(map[string]struct{}),
	}
}

func (c *CgroupController) BackendName() string {
	return "cgroup"
}

func (c *CgroupController) Attach(config *Config) error {
	c.config = config
	// 记录各信号的基线读数
	events := cgroups.ReadMemoryEvents(config.HighCgroup)
	c.lastHighEvents = events["high"]
	c.lastPSITotal = cgroups.ReadPSITotal(path.Dir(config.HighCgroup))
	// 从正常状态开始
	c.setNormal()
	log.Infof("cgroup memcg controller attached (fallback mode)")
	return nil
}

func (c *CgroupController) Detach() {
	if c.config != nil {
		c.setNormal()
		c.protectionActive = false
		log.Infof("cgroup memcg controller detached")
	}
	c.config = nil
}

func (c *CgroupController) Poll() {
	if c.config == nil {
		return
	}

	now := time.Now()

	// 保护状态下只检查窗口是否到期，不再评估压力信号
	if c.protectionActive {
		if now.Sub(c.protectionStart) >= c.config.ProtectionWindow {
			c.setNormal()
			c.protectionActive = false
			log.Debugf("protection window expired, restored normal state")
		}
		return
	}

	if trigger, ok := c.detectPressure(); ok {
		c.activateProtection()
		c.protectionActive = true
		c.protectionStart = now
		c.activations++
		c.lastTrigger = trigger
		log.Infof("memory pressure detected [%s], activating protection", trigger)
	}

	// 扫描 bash wrapper 创建的 per-tool-call 子 cgroup
	c.manageToolCgroups()
}

func (c *CgroupController) Stats() map[string]interface{} {
	return map[string]interface{}{
		"backend":            "cgroup",
		"protection_active":  c.protectionActive,
		"activations":        c.activations,
		"last_trigger":       c.lastTrigger,
		"known_tool_cgroups": len(c.knownToolCgroups),
	}
}

// 按固定优先级评估三个压力信号，第一个命中的信号胜出
// 各信号的上次读数每次都要刷新，保证增量总是相对于上一次观测
func (c *CgroupController) detectPressure() (string, bool) {
	pressure := false
	trigger := ""

	// 信号 1: memory.events 的 high 计数增量
	events := cgroups.ReadMemoryEvents(c.config.HighCgroup)
	currentHigh := events["high"]
	delta := currentHigh - c.lastHighEvents
	c.lastHighEvents = currentHigh
	if delta >= int64(c.config.Threshold) {
		pressure = true
		trigger = fmt.Sprintf("memory.events(delta=%d)", delta)
	}

	// 信号 2: 父 cgroup 的 PSI 累计阻塞时间增量
	parent := path.Dir(c.config.HighCgroup)
	psiTotal := cgroups.ReadPSITotal(parent)
	psiDelta := psiTotal - c.lastPSITotal
	c.lastPSITotal = psiTotal
	if !pressure && psiDelta > 0 {
		pressure = true
		trigger = fmt.Sprintf("psi(delta=%dus)", psiDelta)
	}

	// 信号 3: 父 cgroup 用量逼近 memory.max
	if !pressure {
		current, okCurrent := cgroups.ReadMemoryCurrent(parent)
		limit, okLimit := cgroups.ReadMemoryLimit(parent)
		if okCurrent && okLimit && limit > 0 {
			ratio := float64(current) / float64(limit)
			if ratio >= pressureRatio {
				pressure = true
				trigger = fmt.Sprintf("usage(%.0f%%)", ratio*100)
			}
		}
	}

	return trigger, pressure
}

// 恢复正常状态：HIGH 不保护、LOW 不限流
// 单个写入失败不影响其他写入
func (c *CgroupController) setNormal() {
	if c.config == nil {
		return
	}
	cgroups.Write(c.config.HighCgroup, cgroups.MemoryLowFile, "0")
	for _, low := range c.config.LowCgroups {
		cgroups.Write(low, cgroups.MemoryHighFile, "max")
	}
}

// 进入保护状态：用 memory.low 保护 HIGH 不被回收，用 memory.high 限制 LOW
func (c *CgroupController) activateProtection() {
	if c.config == nil {
		return
	}

	// 根据父 cgroup 的内存上限计算保护值
	parent := path.Dir(c.config.HighCgroup)
	total, ok := cgroups.ReadMemoryLimit(parent)

	var highLow, lowHigh int64
	if ok && total > 0 {
		// HIGH 保护 80%，LOW 压到 50%
		highLow = int64(float64(total) * 0.8)
		lowHigh = int64(float64(total) * 0.5)
	} else {
		// 上限未知时用固定值：保护 1 GiB，限流 512 MiB
		highLow = 1 << 30
		lowHigh = 512 << 20
	}

	cgroups.Write(c.config.HighCgroup, cgroups.MemoryLowFile, strconv.FormatInt(highLow, 10))
	for _, low := range c.config.LowCgroups {
		cgroups.Write(low, cgroups.MemoryHighFile, strconv.FormatInt(lowHigh, 10))
	}
}

// 发现新的 tool_* 子 cgroup 并剔除已消失的
// 目录扫描失败时保持现状
func (c *CgroupController) manageToolCgroups() {
	entries, err := os.ReadDir(c.config.HighCgroup)
	if err != nil {
		return
	}
	current := make(map[string]struct{})
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), toolCgroupPrefix) {
			continue
		}
		toolPath := path.Join(c.config.HighCgroup, entry.Name())
		current[toolPath] = struct{}{}
		if _, known := c.knownToolCgroups[toolPath]; !known {
			log.Debugf("new tool cgroup: %s", toolPath)
		}
	}
	c.knownToolCgroups = current
}
