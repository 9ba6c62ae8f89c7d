package latticeflow

import "github.com/joeycumines/logiface"

// NewLogifaceLogger adapts a *logiface.Logger[E] into the engine's Logger
// interface, so a Pool can be wired directly into any logiface backend
// (stumpy, zerolog, logrus, slog, ...) without the caller writing their own
// shim.
func NewLogifaceLogger[E logiface.Event](l *logiface.Logger[E]) Logger {
	return &logifaceLogger[E]{l: l}
}

type logifaceLogger[E logiface.Event] struct {
	l *logiface.Logger[E]
}

func (a *logifaceLogger[E]) IsEnabled(level LogLevel) bool {
	return a.l.Level() >= mapLevel(level)
}

func (a *logifaceLogger[E]) Log(entry LogEntry) {
	b := a.l.Build(mapLevel(entry.Level))
	if b == nil {
		return
	}
	if entry.CellID != "" {
		b = b.Str("cell", entry.CellID)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	b.Log(entry.Message)
}

// mapLevel translates the engine's four-level scheme onto logiface's
// syslog-derived Level.
func mapLevel(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
