package di

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/omarluq/flow-relay/internal/config"
	"github.com/omarluq/flow-relay/internal/proxy"
)

// LoggerService wraps the zerolog logger for DI.
type LoggerService struct {
	Logger *zerolog.Logger
	cfg    config.LoggingConfig
}

// NewLogger creates the zerolog logger from configuration.
func NewLogger(i do.Injector) (*LoggerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	cfg := cfgSvc.Get().Logging
	logger, err := proxy.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &LoggerService{Logger: &logger, cfg: cfg}, nil
}

// Component returns a child logger tagged with name, at the level set for
// it under logging.components. Levels are fixed at startup.
func (l *LoggerService) Component(name string) *zerolog.Logger {
	child := proxy.ComponentLogger(l.Logger, l.cfg, name)
	return &child
}
