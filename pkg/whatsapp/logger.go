package whatsapp

import (
	"github.com/sirupsen/logrus"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type logger struct {
	entry  *logrus.Entry
	module string
}

// NewLogger bridges whatsmeow logs into logrus.
func NewLogger(entry *logrus.Entry, module string) waLog.Logger {
	return &logger{entry: entry.WithField("module", module), module: module}
}

func (l *logger) Debugf(msg string, args ...interface{}) { l.entry.Debugf(msg, args...) }
func (l *logger) Infof(msg string, args ...interface{})  { l.entry.Infof(msg, args...) }
func (l *logger) Warnf(msg string, args ...interface{})  { l.entry.Warnf(msg, args...) }
func (l *logger) Errorf(msg string, args ...interface{}) { l.entry.Errorf(msg, args...) }

func (l *logger) Sub(module string) waLog.Logger {
	name := module
	if l.module != "" {
		name = l.module + "/" + module
	}
	return &logger{entry: l.entry.WithField("module", name), module: name}
}
