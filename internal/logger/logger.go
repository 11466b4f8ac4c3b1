package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	instance *zap.SugaredLogger
	once     sync.Once
)

type Config struct {
	Development bool
}

// New builds the process-wide logger. Production output is JSON at info
// level; development gets the console encoder with debug enabled. Repeat
// calls return the first logger built.
func New(cfg Config) (*zap.SugaredLogger, error) {
	var err error
	once.Do(func() {
		zc := zap.NewProductionConfig()
		if cfg.Development {
			zc = zap.NewDevelopmentConfig()
		}
		zc.DisableStacktrace = true

		var l *zap.Logger
		l, err = zc.Build()
		if err != nil {
			return
		}
		instance = l.Sugar()
	})
	return instance, err
}
