// Package logging provides structured logging for the dashboard core.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger with the context-map call style used
// throughout the core.
type Logger struct {
	l *logrus.Logger
}

var (
	// global logger instance
	global *Logger
	once   sync.Once
)

// Init initializes the global logger.
func Init(out io.Writer, level logrus.Level) {
	once.Do(func() {
		l := logrus.New()
		l.SetOutput(out)
		l.SetLevel(level)
		l.SetFormatter(&logrus.JSONFormatter{})
		global = &Logger{l: l}
	})
}

// Get returns the global logger instance.
func Get() *Logger {
	if global == nil {
		Init(os.Stdout, logrus.InfoLevel)
	}
	return global
}

// Debug logs a debug message.
func (lg *Logger) Debug(message string, context ...map[string]interface{}) {
	lg.entry(nil, context...).Debug(message)
}

// Info logs an info message.
func (lg *Logger) Info(message string, context ...map[string]interface{}) {
	lg.entry(nil, context...).Info(message)
}

// Warn logs a warning message.
func (lg *Logger) Warn(message string, context ...map[string]interface{}) {
	lg.entry(nil, context...).Warn(message)
}

// Error logs an error message.
func (lg *Logger) Error(message string, err error, context ...map[string]interface{}) {
	lg.entry(err, context...).Error(message)
}

// entry builds a logrus entry from merged context maps.
func (lg *Logger) entry(err error, context ...map[string]interface{}) *logrus.Entry {
	fields := logrus.Fields{}
	for _, c := range context {
		for k, v := range c {
			fields[k] = v
		}
	}
	e := lg.l.WithFields(fields)
	if err != nil {
		e = e.WithError(err)
	}
	return e
}

// Convenience functions using the global logger

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}
