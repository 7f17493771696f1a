package utils

import (
	"fmt"

	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Debug turns programmer errors reported through Must into panics.
var Debug = false

// NewLogger builds a SugaredLogger writing to a rolling file and, when
// enabled, to a colored console.
func NewLogger(cfg LogConfig) (*zap.SugaredLogger, error) {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("%w: log level %q", ErrBadConfig, cfg.Level)
		}
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

	var cores []zapcore.Core
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(lj), level))
	}
	if cfg.Console {
		colored := encCfg
		colored.EncodeLevel = zapcore.CapitalColorLevelEncoder
		out := zapcore.AddSync(colorable.NewColorableStderr())
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(colored), out, level))
	}
	if len(cores) == 0 {
		return zap.NewNop().Sugar(), nil
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar(), nil
}

// Must reports a broken internal invariant: it panics in debug builds and
// logs otherwise.
func Must(log *zap.SugaredLogger, ok bool, msg string, keysAndValues ...interface{}) {
	if ok {
		return
	}
	if Debug {
		panic(fmt.Sprint(append([]interface{}{msg, " "}, keysAndValues...)...))
	}
	log.Errorw(msg, keysAndValues...)
}
