// Package wlog adapts a zerolog.Logger to whatsmeow's waLog.Logger
// interface so the whatsmeow client emits through the same structured
// sink as the rest of this process, instead of the library's own
// Stdout writer.
package wlog

import (
	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Adapter implements waLog.Logger on top of zerolog.
type Adapter struct {
	log zerolog.Logger
}

// New wraps logger with a "module" field set to module.
func New(logger zerolog.Logger, module string) *Adapter {
	return &Adapter{log: logger.With().Str("module", module).Logger()}
}

func (a *Adapter) Debugf(msg string, args ...interface{}) {
	a.log.Debug().Msgf(msg, args...)
}

func (a *Adapter) Infof(msg string, args ...interface{}) {
	a.log.Info().Msgf(msg, args...)
}

func (a *Adapter) Warnf(msg string, args ...interface{}) {
	a.log.Warn().Msgf(msg, args...)
}

func (a *Adapter) Errorf(msg string, args ...interface{}) {
	a.log.Error().Msgf(msg, args...)
}

func (a *Adapter) Sub(module string) waLog.Logger {
	return New(a.log, module)
}
