package logger

import (
	"io"
	"log"

	"github.com/hashicorp/go-hclog"
)

// HCLogAdapter exposes a stash Logger through the hclog.Logger
// interface so that components written against hclog, such as the
// physical driver factories, can log through it.
type HCLogAdapter struct {
	logger Logger
	name   string
	args   []interface{} // implied args from With()
}

var _ hclog.Logger = (*HCLogAdapter)(nil)

// NewHCLogAdapter creates a new adapter around the given Logger
func NewHCLogAdapter(logger Logger) hclog.Logger {
	return &HCLogAdapter{logger: logger}
}

// Log emits a message at the given level
func (a *HCLogAdapter) Log(level hclog.Level, msg string, args ...interface{}) {
	switch level {
	case hclog.Trace:
		a.Trace(msg, args...)
	case hclog.Debug:
		a.Debug(msg, args...)
	case hclog.Warn:
		a.Warn(msg, args...)
	case hclog.Error:
		a.Error(msg, args...)
	default:
		a.Info(msg, args...)
	}
}

func (a *HCLogAdapter) Trace(msg string, args ...interface{}) {
	a.logger.Trace(msg, a.argsToFields(args)...)
}

func (a *HCLogAdapter) Debug(msg string, args ...interface{}) {
	a.logger.Debug(msg, a.argsToFields(args)...)
}

func (a *HCLogAdapter) Info(msg string, args ...interface{}) {
	a.logger.Info(msg, a.argsToFields(args)...)
}

func (a *HCLogAdapter) Warn(msg string, args ...interface{}) {
	a.logger.Warn(msg, a.argsToFields(args)...)
}

func (a *HCLogAdapter) Error(msg string, args ...interface{}) {
	a.logger.Error(msg, a.argsToFields(args)...)
}

// argsToFields converts hclog's alternating key/value pairs, prefixed
// with the implied args from With(), into TypedFields.
func (a *HCLogAdapter) argsToFields(args []interface{}) []TypedField {
	all := append(append([]interface{}{}, a.args...), args...)

	fields := make([]TypedField, 0, len(all)/2)
	for i := 0; i+1 < len(all); i += 2 {
		key, ok := all[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, Any(key, all[i+1]))
	}
	return fields
}

// Named returns a logger with the given name appended, joined with "."
func (a *HCLogAdapter) Named(name string) hclog.Logger {
	newName := name
	if a.name != "" {
		newName = a.name + "." + name
	}
	return &HCLogAdapter{
		logger: a.logger.WithSystem(name),
		name:   newName,
		args:   a.args,
	}
}

// ResetNamed returns a logger with the name replaced entirely
func (a *HCLogAdapter) ResetNamed(name string) hclog.Logger {
	return &HCLogAdapter{
		logger: a.logger.WithSystem(name),
		name:   name,
		args:   a.args,
	}
}

// With returns a logger carrying the given key/value pairs on every call
func (a *HCLogAdapter) With(args ...interface{}) hclog.Logger {
	newArgs := make([]interface{}, 0, len(a.args)+len(args))
	newArgs = append(newArgs, a.args...)
	newArgs = append(newArgs, args...)
	return &HCLogAdapter{
		logger: a.logger,
		name:   a.name,
		args:   newArgs,
	}
}

func (a *HCLogAdapter) Name() string {
	return a.name
}

func (a *HCLogAdapter) IsTrace() bool {
	return a.logger.IsLevelEnabled(TraceLevel)
}

func (a *HCLogAdapter) IsDebug() bool {
	return a.logger.IsLevelEnabled(DebugLevel)
}

func (a *HCLogAdapter) IsInfo() bool {
	return a.logger.IsLevelEnabled(InfoLevel)
}

func (a *HCLogAdapter) IsWarn() bool {
	return a.logger.IsLevelEnabled(WarnLevel)
}

func (a *HCLogAdapter) IsError() bool {
	return a.logger.IsLevelEnabled(ErrorLevel)
}

func (a *HCLogAdapter) GetLevel() hclog.Level {
	switch {
	case a.logger.IsLevelEnabled(TraceLevel):
		return hclog.Trace
	case a.logger.IsLevelEnabled(DebugLevel):
		return hclog.Debug
	case a.logger.IsLevelEnabled(InfoLevel):
		return hclog.Info
	case a.logger.IsLevelEnabled(WarnLevel):
		return hclog.Warn
	case a.logger.IsLevelEnabled(ErrorLevel):
		return hclog.Error
	}
	return hclog.Off
}

// SetLevel is a no-op; the level is fixed by the underlying Config
func (a *HCLogAdapter) SetLevel(level hclog.Level) {}

// ImpliedArgs returns the key/value pairs set via With()
func (a *HCLogAdapter) ImpliedArgs() []interface{} {
	return a.args
}

// StandardLogger is not supported by this adapter
func (a *HCLogAdapter) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return nil
}

// StandardWriter is not supported by this adapter
func (a *HCLogAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return nil
}
