package lifecycle

import "github.com/sirupsen/logrus"

// sessionHook stamps every entry with the session ID
type sessionHook struct {
	id string
}

func (h sessionHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h sessionHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["session"]; !ok {
		entry.Data["session"] = h.id
	}
	return nil
}

// sessionLogger derives a logger from base that shares its output, formatter, level
// and hooks and adds the session field to every entry.
func sessionLogger(base *logrus.Logger, id string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(base.Out)
	l.SetFormatter(base.Formatter)
	l.SetLevel(base.GetLevel())
	l.SetReportCaller(base.ReportCaller)
	l.ExitFunc = base.ExitFunc

	// Session hook first so the base hooks see the field
	hooks := make(logrus.LevelHooks)
	hooks.Add(sessionHook{id: id})
	for level, hs := range base.Hooks {
		hooks[level] = append(hooks[level], hs...)
	}
	l.ReplaceHooks(hooks)
	return l
}
