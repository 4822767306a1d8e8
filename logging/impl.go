package logging

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	impl struct {
		name  string
		level AtomicLevel
		inUTC bool

		appenders []Appender
	}

	logEntry struct {
		zapcore.Entry
		fields []zapcore.Field
	}
)

var appendersMu sync.RWMutex

func (imp *impl) newLogEntry() *logEntry {
	ret := &logEntry{}
	ret.Time = time.Now()
	ret.LoggerName = imp.name
	ret.Caller = getCaller()
	return ret
}

func (imp *impl) AddAppender(appender Appender) {
	appendersMu.Lock()
	imp.appenders = append(imp.appenders, appender)
	appendersMu.Unlock()
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}

	appendersMu.RLock()
	appenders := append([]Appender(nil), imp.appenders...)
	appendersMu.RUnlock()
	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: appenders,
	}
}

func (imp *impl) Sync() error {
	appendersMu.RLock()
	defer appendersMu.RUnlock()
	var errs error
	for _, appender := range imp.appenders {
		errs = multierr.Append(errs, appender.Sync())
	}
	return errs
}

func (imp *impl) shouldLog(logLevel Level) bool {
	return logLevel >= imp.level.Get()
}

func (imp *impl) log(entry *logEntry) {
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}

	appendersMu.RLock()
	defer appendersMu.RUnlock()
	for _, appender := range imp.appenders {
		if err := appender.Write(entry.Entry, entry.fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func (imp *impl) format(logLevel Level, args ...interface{}) *logEntry {
	entry := imp.newLogEntry()
	entry.Level = logLevel.AsZap()
	entry.Message = fmt.Sprint(args...)
	return entry
}

func (imp *impl) formatf(logLevel Level, template string, args ...interface{}) *logEntry {
	entry := imp.newLogEntry()
	entry.Level = logLevel.AsZap()
	entry.Message = fmt.Sprintf(template, args...)
	return entry
}

// formatw pairs up `keysAndValues`. Keys are stringified, values become `zap.Any` fields. A
// dangling key gets an error value so the mistake shows up in the output.
func (imp *impl) formatw(logLevel Level, msg string, keysAndValues ...interface{}) *logEntry {
	entry := imp.newLogEntry()
	entry.Level = logLevel.AsZap()
	entry.Message = msg

	entry.fields = make([]zapcore.Field, 0, len(keysAndValues)/2)
	for keyIdx := 0; keyIdx < len(keysAndValues); keyIdx += 2 {
		var keyStr string
		if stringer, ok := keysAndValues[keyIdx].(fmt.Stringer); ok {
			keyStr = stringer.String()
		} else {
			keyStr = fmt.Sprintf("%v", keysAndValues[keyIdx])
		}

		if keyIdx+1 < len(keysAndValues) {
			entry.fields = append(entry.fields, zap.Any(keyStr, keysAndValues[keyIdx+1]))
		} else {
			entry.fields = append(entry.fields, zap.Any(keyStr, errors.New("unpaired log key")))
		}
	}
	return entry
}

func (imp *impl) Debug(args ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.log(imp.format(DEBUG, args...))
	}
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.log(imp.formatf(DEBUG, template, args...))
	}
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.log(imp.formatw(DEBUG, msg, keysAndValues...))
	}
}

func (imp *impl) Info(args ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.log(imp.format(INFO, args...))
	}
}

func (imp *impl) Infof(template string, args ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.log(imp.formatf(INFO, template, args...))
	}
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.log(imp.formatw(INFO, msg, keysAndValues...))
	}
}

func (imp *impl) Warn(args ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.log(imp.format(WARN, args...))
	}
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.log(imp.formatf(WARN, template, args...))
	}
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.log(imp.formatw(WARN, msg, keysAndValues...))
	}
}

func (imp *impl) Error(args ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.log(imp.format(ERROR, args...))
	}
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.log(imp.formatf(ERROR, template, args...))
	}
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.log(imp.formatw(ERROR, msg, keysAndValues...))
	}
}

// getCaller reports the frame that called one of the exported log methods. The skip count is
// getCaller, newLogEntry, format*, the log method.
func getCaller() zapcore.EntryCaller {
	var ok bool
	var entryCaller zapcore.EntryCaller
	const skipToLogCaller = 4
	entryCaller.PC, entryCaller.File, entryCaller.Line, ok = runtime.Caller(skipToLogCaller)
	if !ok {
		return entryCaller
	}
	entryCaller.Defined = true

	if runtimeFunc := runtime.FuncForPC(entryCaller.PC); runtimeFunc != nil {
		entryCaller.Function = runtimeFunc.Name()
	}
	return entryCaller
}
