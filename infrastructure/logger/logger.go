package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"papertrade-go/monitor/logschema"
)

// Logger 在 zap 之上加了一层领域事件：交易、搜索、估值。
// 每个事件先过 logschema 校验，缺字段只告警不丢日志。
type Logger struct {
	*zap.Logger
	config Config
}

// Config 日志配置
type Config struct {
	Level string `yaml:"level"`
	// stdout, file
	Outputs    []string `yaml:"outputs"`
	OutputFile string   `yaml:"output_file"`
	// 只收 error 及以上
	ErrorFile string `yaml:"error_file"`
	// json | console
	Format string `yaml:"format"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Outputs: []string{"stdout"}, Format: "json"}
}

// sink 是一个输出目标及其最低级别。
type sink struct {
	ws      zapcore.WriteSyncer
	enabler zapcore.LevelEnabler
	console bool
}

// New 按配置组装 core。stdout 输出实际写 stderr，stdout 留给 CLI 结果。
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	sinks, err := buildSinks(cfg, level)
	if err != nil {
		return nil, err
	}
	cores := make([]zapcore.Core, 0, len(sinks))
	for _, s := range sinks {
		cores = append(cores, zapcore.NewCore(encoderFor(s.console), s.ws, s.enabler))
	}
	return NewWithCore(zapcore.NewTee(cores...), cfg), nil
}

func buildSinks(cfg Config, level zapcore.Level) ([]sink, error) {
	var sinks []sink
	if slices.Contains(cfg.Outputs, "stdout") {
		sinks = append(sinks, sink{ws: zapcore.Lock(os.Stderr), enabler: level, console: cfg.Format == "console"})
	}
	if slices.Contains(cfg.Outputs, "file") && cfg.OutputFile != "" {
		f, err := openAppend(cfg.OutputFile)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		sinks = append(sinks, sink{ws: zapcore.AddSync(f), enabler: level})
	}
	if cfg.ErrorFile != "" {
		f, err := openAppend(cfg.ErrorFile)
		if err != nil {
			return nil, fmt.Errorf("open error log file %s: %w", cfg.ErrorFile, err)
		}
		sinks = append(sinks, sink{ws: zapcore.AddSync(f), enabler: zapcore.ErrorLevel})
	}
	return sinks, nil
}

// 文件永远是 JSON；console 只给终端用。
func encoderFor(console bool) zapcore.Encoder {
	if console {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(ec)
}

// NewWithCore 用给定 core 构造，测试时配合 zaptest/observer。
func NewWithCore(core zapcore.Core, cfg Config) *Logger {
	return &Logger{
		Logger: zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)),
		config: cfg,
	}
}

func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(toZap(fields)...), config: l.config}
}

// category 决定事件落在哪条消息上、用什么级别。
type category struct {
	msg   string
	level func(event string) zapcore.Level
}

var (
	tradeCategory = category{msg: "trade_event", level: func(event string) zapcore.Level {
		if event == "trade_executed" {
			return zapcore.InfoLevel
		}
		// 拒单、回滚都要看得见
		return zapcore.WarnLevel
	}}
	searchCategory    = category{msg: "search_event", level: constLevel(zapcore.DebugLevel)}
	portfolioCategory = category{msg: "portfolio_event", level: constLevel(zapcore.WarnLevel)}
)

func constLevel(lvl zapcore.Level) func(string) zapcore.Level {
	return func(string) zapcore.Level { return lvl }
}

func (l *Logger) LogTrade(event string, fields map[string]interface{}) {
	l.emit(tradeCategory, event, fields)
}

func (l *Logger) LogSearch(event string, fields map[string]interface{}) {
	l.emit(searchCategory, event, fields)
}

func (l *Logger) LogPortfolio(event string, fields map[string]interface{}) {
	l.emit(portfolioCategory, event, fields)
}

// LogError 以 error 级别记录，ctx 可为 nil。
func (l *Logger) LogError(err error, ctx map[string]interface{}) {
	zf := append(toZap(ctx), zap.String("error", err.Error()), stamp())
	l.Error("error_event", zf...)
}

func (l *Logger) emit(cat category, event string, fields map[string]interface{}) {
	var mf *logschema.MissingFieldsError
	if err := logschema.Validate(event, fields); errors.As(err, &mf) {
		l.Warn("log schema mismatch", zap.String("event", event), zap.Strings("missing", mf.Missing))
	}
	ce := l.Check(cat.level(event), cat.msg)
	if ce == nil {
		return
	}
	ce.Write(append(toZap(fields), zap.String("event", event), stamp())...)
}

func stamp() zap.Field {
	return zap.String("ts", time.Now().UTC().Format(time.RFC3339Nano))
}

func (l *Logger) Close() error {
	return l.Sync()
}

func toZap(fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+2)
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
