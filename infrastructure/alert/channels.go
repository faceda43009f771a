package alert

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ZapChannel 写入结构化日志
type ZapChannel struct {
	logger *zap.Logger
	name   string
}

func NewZapChannel(name string, logger *zap.Logger) *ZapChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapChannel{logger: logger, name: name}
}

func (c *ZapChannel) Send(alert Alert) error {
	fields := make([]zap.Field, 0, len(alert.Fields)+3)
	fields = append(fields, zap.String("level", string(alert.Level)), zap.Time("at", alert.At))
	if alert.Suppressed > 0 {
		fields = append(fields, zap.Int("suppressed", alert.Suppressed))
	}
	for _, k := range sortedKeys(alert.Fields) {
		fields = append(fields, zap.Any(k, alert.Fields[k]))
	}
	msg := "alert: " + alert.Message
	switch alert.Level {
	case LevelError:
		c.logger.Error(msg, fields...)
	case LevelWarning:
		c.logger.Warn(msg, fields...)
	default:
		c.logger.Info(msg, fields...)
	}
	return nil
}

func (c *ZapChannel) Name() string { return c.name }

// ConsoleChannel 给终端用户的提示（CLI 里写 stderr）
type ConsoleChannel struct {
	name  string
	out   io.Writer
	color bool
	mu    sync.Mutex
}

// NewConsoleChannel 创建控制台告警通道
func NewConsoleChannel(name string, out io.Writer, color bool) *ConsoleChannel {
	return &ConsoleChannel{name: name, out: out, color: color}
}

func (c *ConsoleChannel) Send(alert Alert) error {
	colorCode, colorReset := "", ""
	if c.color {
		colorReset = "\033[0m"
		switch alert.Level {
		case LevelInfo:
			colorCode = "\033[32m"
		case LevelWarning:
			colorCode = "\033[33m"
		case LevelError:
			colorCode = "\033[31m"
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s]%s %s", colorCode, alert.Level, colorReset, alert.Message)
	if keys := sortedKeys(alert.Fields); len(keys) > 0 {
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, alert.Fields[k])
		}
	}
	if alert.Suppressed > 0 {
		fmt.Fprintf(&b, " (+%d more)", alert.Suppressed)
	}
	b.WriteByte('\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, b.String())
	return err
}

func (c *ConsoleChannel) Name() string { return c.name }

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
