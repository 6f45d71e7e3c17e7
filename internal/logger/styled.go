package logger

import (
	"fmt"
	"log/slog"

	"github.com/brightloom/waypoint/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting methods for the
// handful of log lines that benefit from a splash of colour: worker ports,
// quota counts and session-affinity hits.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme.
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

// InfoWithWorker logs msg with the worker port styled, e.g. dispatch decisions.
func (sl *StyledLogger) InfoWithWorker(msg string, port int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Worker.Sprintf(":%d", port))
	sl.logger.Info(styledMsg, args...)
}

// InfoSessionHit logs that a request was routed by session affinity.
func (sl *StyledLogger) InfoSessionHit(msg string, port int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.SessionHit.Sprintf(":%d", port))
	sl.logger.Info(styledMsg, args...)
}

// InfoWithQuota logs msg with a remaining-quota count styled.
func (sl *StyledLogger) InfoWithQuota(msg string, quota int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Quota.Sprint(quota))
	sl.logger.Info(styledMsg, args...)
}

// WarnUnknownWorker logs that a worker's status could not be collected this cycle.
func (sl *StyledLogger) WarnUnknownWorker(msg string, port int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Unknown.Sprintf(":%d", port))
	sl.logger.Warn(styledMsg, args...)
}

// GetUnderlying returns the underlying slog.Logger for direct use.
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs returns a new StyledLogger with additional structured attributes.
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// With returns a new StyledLogger with additional key-value pairs.
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// NewWithTheme creates both a plain slog.Logger and a themed StyledLogger
// sharing the same handlers, so file output stays structured while the
// console gets the styled variant.
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	log, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styled := NewStyledLogger(log, appTheme)

	return log, styled, cleanup, nil
}
