package events

import "github.com/sirupsen/logrus"

// LogrusSink adapts a *logrus.Logger into a Sink. This is the sink the
// CLI uses.
type LogrusSink struct {
	Logger *logrus.Logger
}

// NewLogrusSink builds a LogrusSink. A nil logger falls back to
// logrus.StandardLogger().
func NewLogrusSink(logger *logrus.Logger) *LogrusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusSink{Logger: logger}
}

func (s *LogrusSink) Emit(e Event) {
	entry := s.Logger.WithFields(logrus.Fields(e.Fields)).WithField("span_id", e.SpanID)

	switch e.Severity {
	case Trace:
		entry.Trace(e.Name)
	case Debug:
		entry.Debug(e.Name)
	case Info:
		entry.Info(e.Name)
	case Warn:
		entry.Warn(e.Name)
	case Error:
		entry.Error(e.Name)
	default:
		entry.Info(e.Name)
	}
}
