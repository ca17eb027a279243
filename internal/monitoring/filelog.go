package monitoring

import (
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileLogger writes diagnostics to a size-rotated file.
type FileLogger struct {
	*zap.SugaredLogger
	out *lumberjack.Logger
}

// NewFileLogger opens a rotating log at path: 10MB per file, 3 backups kept
// for up to 7 days.
func NewFileLogger(path string) (*FileLogger, error) {
	if path == "" {
		return nil, errors.New("log path is empty")
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(lj), zapcore.DebugLevel)
	return &FileLogger{SugaredLogger: zap.New(core).Sugar(), out: lj}, nil
}

// Install routes Logf through the file logger at info level.
func (l *FileLogger) Install() {
	SetLogger(l.Infof)
}

// Close flushes buffered entries and closes the file.
func (l *FileLogger) Close() error {
	return errors.Join(l.Sync(), l.out.Close())
}
