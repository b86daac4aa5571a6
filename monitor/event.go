package monitor

import (
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"
)

// process monitor 输出的事件类型
const (
	EventExec         = "EXEC"
	EventExit         = "EXIT"
	EventFileOpen     = "FILE_OPEN"
	EventBashReadline = "BASH_READLINE"
)

// Event 是 process monitor 每行输出的一个 JSON 事件
type Event struct {
	Timestamp  int64  `json:"timestamp"`
	Event      string `json:"event"`
	Pid        int    `json:"pid"`
	Ppid       int    `json:"ppid"`
	Comm       string `json:"comm"`
	Filename   string `json:"filename"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Filepath   string `json:"filepath"`
	Flags      int    `json:"flags"`
	Count      int    `json:"count"`
	Command    string `json:"command"`
}

// 解析 process monitor 输出的一行 JSON 事件
// 空行或解析失败返回 nil，不视为错误
func Parse(line string) *Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var event Event
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		log.Debugf("parse event json error %v (line: %.100s)", err, line)
		return nil
	}
	return &event
}
