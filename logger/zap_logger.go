package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-webserver/types"
)

// New builds the zap logger described by config.
func New(config *types.LoggerConfig) (*ZapWrapper, error) {
	if config == nil {
		return nil, types.ErrLoggerConfigInvalid
	}

	level := zap.NewAtomicLevelAt(parseLogLevel(config.Level))

	logger, err := buildZapLogger(config, level)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	l := NewZapWrapper(logger)
	l.level = &level
	if config.Output == "stderr" {
		l.stackOut = os.Stderr
	}

	l.Debug("Logger initialized",
		zap.String("level", config.Level),
		zap.String("format", config.Format),
		zap.String("output", config.Output),
	)

	return l, nil
}

func buildZapLogger(config *types.LoggerConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	var zapConfig zap.Config
	if config.Format == "json" {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.EncoderConfig.EncodeCaller = ideCallerEncoder
	}

	zapConfig.DisableStacktrace = true
	zapConfig.Level = level

	switch config.Output {
	case "stderr":
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	case "file":
		if err := ensureLogDir(config.File); err != nil {
			return nil, err
		}
		zapConfig.OutputPaths = []string{config.File}
		zapConfig.ErrorOutputPaths = []string{config.File}
	default:
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	return zapConfig.Build(zap.AddCaller())
}

func ideCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("%s:%d", caller.File, caller.Line))
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func ensureLogDir(logFile string) error {
	if logFile == "" {
		return types.ErrLogFileIsEmpty
	}

	dir := filepath.Dir(logFile)
	if dir == "." {
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.WrapError(err, "access denied to log directory")
	}
	return nil
}

// ZapWrapper adapts *zap.Logger to types.Logger and prints error stacks.
type ZapWrapper struct {
	Logger   *zap.Logger
	stackOut io.Writer
	level    *zap.AtomicLevel
}

func NewZapWrapper(logger *zap.Logger) *ZapWrapper {
	return &ZapWrapper{Logger: logger, stackOut: os.Stdout}
}

// NewNop returns a logger that discards everything.
func NewNop() *ZapWrapper {
	return &ZapWrapper{Logger: zap.NewNop(), stackOut: io.Discard}
}

// SetLevel changes the minimum level at runtime. Loggers not built by New ignore it.
func (z *ZapWrapper) SetLevel(level string) {
	if z.level == nil {
		return
	}
	z.level.SetLevel(parseLogLevel(level))
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

func (z *ZapWrapper) Warn(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func (z *ZapWrapper) Info(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(1)).Log(lvl, msg, fields...)
}

func (z *ZapWrapper) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.Logger.WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+1)
	allFields = append(allFields, zap.String("error", err.Error()))
	allFields = append(allFields, fields...)

	z.Logger.WithOptions(zap.AddCallerSkip(1)).Error(msg, allFields...)

	if stack := extractStackFromError(err); stack != "" {
		z.logPrettyStack(stack)
	}
}

// Sync flushes buffered entries. Syncing a terminal returns EINVAL on some
// platforms, which is not worth reporting.
func (z *ZapWrapper) Sync() error {
	err := z.Logger.Sync()
	if err != nil && isIgnorableSyncError(err) {
		return nil
	}
	return err
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

func extractStackFromError(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		if trace := st.StackTrace(); len(trace) > 0 {
			return fmt.Sprintf("%+v", trace)
		}
	}
	return ""
}

func (z *ZapWrapper) logPrettyStack(stackStr string) {
	if z.stackOut == nil {
		return
	}

	fmt.Fprintf(z.stackOut, "ERROR STACK TRACE\n")

	for _, line := range strings.Split(stackStr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.Contains(line, "types.NewPanicError") ||
			strings.Contains(line, "types/errors.go:") ||
			strings.Contains(line, "runtime.goexit") ||
			strings.Contains(line, "runtime/panic.go:") ||
			strings.Contains(line, "asm_amd64.s:") {
			continue
		}

		displayLine := line
		if len(line) > 90 {
			displayLine = line[:87] + "..."
		}

		fmt.Fprintf(z.stackOut, "%-95s\n", displayLine)
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "inappropriate ioctl for device") ||
		strings.Contains(msg, "bad file descriptor")
}
