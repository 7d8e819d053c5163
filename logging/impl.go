package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type impl struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

func newImpl(name string, level zap.AtomicLevel, cores ...zapcore.Core) *impl {
	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if name != "" {
		logger = logger.Named(name)
	}
	return &impl{SugaredLogger: logger.Sugar(), level: level}
}

func (imp *impl) Sublogger(subname string) Logger {
	return &impl{
		SugaredLogger: imp.SugaredLogger.Named(subname),
		level:         imp.level,
	}
}

func (imp *impl) SetLevel(level Level) {
	imp.level.SetLevel(level.AsZap())
}

func (imp *impl) GetLevel() Level {
	return Level(imp.level.Level())
}

func (imp *impl) AsZap() *zap.SugaredLogger {
	return imp.SugaredLogger
}
