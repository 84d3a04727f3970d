/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package ice

import (
	liblog "github.com/nabbar/golib/logger"
	piolog "github.com/pion/logging"
)

type logFactory struct{}

func (f logFactory) NewLogger(scope string) piolog.LeveledLogger {
	return &logBridge{scope: scope}
}

// logBridge forwards the substrate's leveled logging onto the process
// logger so agent activity lands in the same stream as the transport's.
type logBridge struct {
	scope string
}

func (l *logBridge) Trace(msg string) {
	liblog.DebugLevel.Logf("[ice: %s] %s", l.scope, msg)
}

func (l *logBridge) Tracef(format string, args ...interface{}) {
	var newArg = append(make([]interface{}, 0), l.scope)
	liblog.DebugLevel.Logf("[ice: %s] "+format, append(newArg, args...)...)
}

func (l *logBridge) Debug(msg string) {
	liblog.DebugLevel.Logf("[ice: %s] %s", l.scope, msg)
}

func (l *logBridge) Debugf(format string, args ...interface{}) {
	var newArg = append(make([]interface{}, 0), l.scope)
	liblog.DebugLevel.Logf("[ice: %s] "+format, append(newArg, args...)...)
}

func (l *logBridge) Info(msg string) {
	liblog.InfoLevel.Logf("[ice: %s] %s", l.scope, msg)
}

func (l *logBridge) Infof(format string, args ...interface{}) {
	var newArg = append(make([]interface{}, 0), l.scope)
	liblog.InfoLevel.Logf("[ice: %s] "+format, append(newArg, args...)...)
}

func (l *logBridge) Warn(msg string) {
	liblog.WarnLevel.Logf("[ice: %s] %s", l.scope, msg)
}

func (l *logBridge) Warnf(format string, args ...interface{}) {
	var newArg = append(make([]interface{}, 0), l.scope)
	liblog.WarnLevel.Logf("[ice: %s] "+format, append(newArg, args...)...)
}

func (l *logBridge) Error(msg string) {
	liblog.ErrorLevel.Logf("[ice: %s] %s", l.scope, msg)
}

func (l *logBridge) Errorf(format string, args ...interface{}) {
	var newArg = append(make([]interface{}, 0), l.scope)
	liblog.ErrorLevel.Logf("[ice: %s] "+format, append(newArg, args...)...)
}
