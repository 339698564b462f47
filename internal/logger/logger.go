// Package logger builds the process-wide sugared zap logger.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	instance *zap.SugaredLogger
	once     sync.Once
)

// New returns the singleton logger for the given environment. Production gets
// the sampled JSON config; anything else logs human-readable with ISO
// timestamps.
func New(env string) (*zap.SugaredLogger, error) {
	var err error
	once.Do(func() {
		var l *zap.Logger
		if env == "production" {
			l, err = zap.NewProduction()
		} else {
			cfg := zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			l, err = cfg.Build()
		}
		if err != nil {
			return
		}
		instance = l.Sugar()
	})
	return instance, err
}
