package logger

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSessionLines 会话日志面板默认保留行数
const DefaultSessionLines = 500

// 面板里不重复显示的字段
var hiddenFields = map[string]bool{
	"session":  true,
	"document": true,
}

// SessionLog 会话日志面板：有上限的环形缓冲，同时作为 logrus Hook 使用
type SessionLog struct {
	mutex sync.Mutex
	lines []string
	start int
	limit int
}

// NewSessionLog 创建会话日志面板
func NewSessionLog(limit int) *SessionLog {
	if limit <= 0 {
		limit = DefaultSessionLines
	}
	return &SessionLog{limit: limit}
}

// Add 追加一行
func (s *SessionLog) Add(line string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.lines) < s.limit {
		s.lines = append(s.lines, line)
		return
	}
	s.lines[s.start] = line
	s.start = (s.start + 1) % s.limit
}

// Lines 按写入顺序返回副本
func (s *SessionLog) Lines() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]string, 0, len(s.lines))
	out = append(out, s.lines[s.start:]...)
	out = append(out, s.lines[:s.start]...)
	return out
}

// Len 当前行数
func (s *SessionLog) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.lines)
}

// Levels 实现 logrus.Hook
func (s *SessionLog) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 实现 logrus.Hook
func (s *SessionLog) Fire(entry *logrus.Entry) error {
	s.Add(FormatLine(entry.Time, entry.Level, entry.Message, entry.Data))
	return nil
}

// FormatLine 面板行格式：时间 级别 消息 key=value...
func FormatLine(ts time.Time, level logrus.Level, msg string, data logrus.Fields) string {
	var b strings.Builder
	b.WriteString(ts.Format("15:04:05"))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(level.String()))
	b.WriteByte(' ')
	b.WriteString(msg)

	keys := make([]string, 0, len(data))
	for k := range data {
		if !hiddenFields[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, data[k])
	}
	return b.String()
}

// ForSession 返回写入进程日志并同步到会话面板的 Entry
func ForSession(sessionID string, panel *SessionLog) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(Logger.Out)
	l.SetFormatter(Logger.Formatter)
	l.SetLevel(Logger.GetLevel())
	if panel != nil {
		l.AddHook(panel)
	}
	return l.WithField("session", sessionID)
}
