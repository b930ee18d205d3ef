// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package log wraps seelog behind the handful of leveled helpers the agent
// actually uses. Log lines produced before SetupLogger runs are buffered and
// replayed once the logger is ready.
package log

import (
	"fmt"
	"sync"

	"github.com/cihub/seelog"
)

var (
	logger *agentLogger

	// This buffer holds log lines sent to the logger before its
	// initialization. It should be very short lived.
	logsBuffer           = []func(){}
	bufferLogsBeforeInit = true
	bufferMutex          sync.Mutex
	defaultStackDepth    = 2
)

// agentLogger is a wrapper structure for seelog
type agentLogger struct {
	inner seelog.LoggerInterface
	level seelog.LogLevel
	l     sync.RWMutex
}

// SetupLogger configures the logger singleton with a seelog interface
func SetupLogger(l seelog.LoggerInterface, level string) {
	logger = &agentLogger{inner: l}

	lvl, ok := seelog.LogLevelFromString(level)
	if !ok {
		lvl = seelog.InfoLvl
	}
	logger.level = lvl
	logger.inner.SetAdditionalStackDepth(defaultStackDepth) //nolint:errcheck

	// Flushing logs since the logger is now initialized
	bufferMutex.Lock()
	bufferLogsBeforeInit = false
	defer bufferMutex.Unlock()
	for _, logLine := range logsBuffer {
		logLine()
	}
	logsBuffer = []func(){}
}

// SetupDefaultLogger initializes a console logger at the given level. Used by
// the CLI entrypoints and by tests that want readable output.
func SetupDefaultLogger(level string) error {
	l, err := seelog.LoggerFromConfigAsString(
		`<seelog minlevel="` + level + `"><outputs formatid="common"><console/></outputs>` +
			`<formats><format id="common" format="%Date(2006-01-02 15:04:05 MST) | %LEVEL | %Msg%n"/></formats></seelog>`)
	if err != nil {
		return err
	}
	SetupLogger(l, level)
	return nil
}

func addLogToBuffer(logHandle func()) {
	bufferMutex.Lock()
	defer bufferMutex.Unlock()

	logsBuffer = append(logsBuffer, logHandle)
}

func (sw *agentLogger) shouldLog(level seelog.LogLevel) bool {
	sw.l.RLock()
	shouldLog := level >= sw.level
	sw.l.RUnlock()

	return shouldLog
}

func (sw *agentLogger) trace(s string) {
	sw.l.Lock()
	defer sw.l.Unlock()
	sw.inner.Trace(s)
}

func (sw *agentLogger) debug(s string) {
	sw.l.Lock()
	defer sw.l.Unlock()
	sw.inner.Debug(s)
}

func (sw *agentLogger) info(s string) {
	sw.l.Lock()
	defer sw.l.Unlock()
	sw.inner.Info(s)
}

func (sw *agentLogger) warn(s string) {
	sw.l.Lock()
	defer sw.l.Unlock()
	sw.inner.Warn(s) //nolint:errcheck
}

func (sw *agentLogger) error(s string) {
	sw.l.Lock()
	defer sw.l.Unlock()
	sw.inner.Error(s) //nolint:errcheck
}

func (sw *agentLogger) flush() {
	sw.l.Lock()
	defer sw.l.Unlock()
	sw.inner.Flush()
}

func formatLog(params ...interface{}) string {
	return fmt.Sprint(params...)
}

func formatLogf(format string, params ...interface{}) string {
	return fmt.Sprintf(format, params...)
}

// Trace logs at the trace level
func Trace(v ...interface{}) {
	if bufferLogsBeforeInit && logger == nil {
		addLogToBuffer(func() { Trace(v...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.TraceLvl) {
		logger.trace(formatLog(v...))
	}
}

// Tracef formats a message and logs it at the trace level
func Tracef(format string, params ...interface{}) {
	if bufferLogsBeforeInit && logger == nil {
		addLogToBuffer(func() { Tracef(format, params...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.TraceLvl) {
		logger.trace(formatLogf(format, params...))
	}
}

// Debug logs at the debug level
func Debug(v ...interface{}) {
	if bufferLogsBeforeInit && logger == nil {
		addLogToBuffer(func() { Debug(v...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.DebugLvl) {
		logger.debug(formatLog(v...))
	}
}

// Debugf formats a message and logs it at the debug level
func Debugf(format string, params ...interface{}) {
	if bufferLogsBeforeInit && logger == nil {
		addLogToBuffer(func() { Debugf(format, params...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.DebugLvl) {
		logger.debug(formatLogf(format, params...))
	}
}

// Info logs at the info level
func Info(v ...interface{}) {
	if bufferLogsBeforeInit && logger == nil {
		addLogToBuffer(func() { Info(v...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.InfoLvl) {
		logger.info(formatLog(v...))
	}
}

// Infof formats a message and logs it at the info level
func Infof(format string, params ...interface{}) {
	if bufferLogsBeforeInit && logger == nil {
		addLogToBuffer(func() { Infof(format, params...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.InfoLvl) {
		logger.info(formatLogf(format, params...))
	}
}

// Warn logs at the warn level
func Warn(v ...interface{}) {
	if bufferLogsBeforeInit && logger == nil {
		addLogToBuffer(func() { Warn(v...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.WarnLvl) {
		logger.warn(formatLog(v...))
	}
}

// Warnf formats a message and logs it at the warn level
func Warnf(format string, params ...interface{}) {
	if bufferLogsBeforeInit && logger == nil {
		addLogToBuffer(func() { Warnf(format, params...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.WarnLvl) {
		logger.warn(formatLogf(format, params...))
	}
}

// Error logs at the error level
func Error(v ...interface{}) {
	if bufferLogsBeforeInit && logger == nil {
		addLogToBuffer(func() { Error(v...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.ErrorLvl) {
		logger.error(formatLog(v...))
	}
}

// Errorf formats a message and logs it at the error level
func Errorf(format string, params ...interface{}) {
	if bufferLogsBeforeInit && logger == nil {
		addLogToBuffer(func() { Errorf(format, params...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.ErrorLvl) {
		logger.error(formatLogf(format, params...))
	}
}

// Flush flushes the underlying inner log
func Flush() {
	if logger != nil && logger.inner != nil {
		logger.flush()
	}
}
