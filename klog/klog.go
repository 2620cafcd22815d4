// Package klog is the kernel's console logging façade: level-filtered,
// ANSI-colored lines written one byte at a time through the SBI console
// sink, since that is the only output device available before any
// filesystem or tty driver exists.
//
// The logging façade itself is named as an out-of-scope external
// collaborator in spec §1 ("treated only through the interfaces the core
// uses" for SBI); this package is the thin glue the spec still expects
// to exist, grounded on original_source's logging.rs level/color
// scheme.
package klog

import (
	"fmt"
	"strconv"

	"rv39kernel/sbi"
)

// Level is a log severity, ordered least to most severe.
type Level int

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
	Off
)

var colorCode = map[Level]int{
	Error: 31,
	Warn:  93,
	Info:  34,
	Debug: 32,
	Trace: 90,
}

var names = map[Level]string{
	Error: "ERROR",
	Warn:  "WARN",
	Info:  "INFO",
	Debug: "DEBUG",
	Trace: "TRACE",
}

// Logger writes leveled, colored lines through a firmware console.
type Logger struct {
	fw  sbi.Firmware_i
	max Level
}

// New creates a logger writing through fw, filtering out anything below
// max.
func New(fw sbi.Firmware_i, max Level) *Logger {
	return &Logger{fw: fw, max: max}
}

func (l *Logger) puts(s string) {
	for i := 0; i < len(s); i++ {
		l.fw.ConsolePutchar(s[i])
	}
}

// Log writes one leveled, colored line, or nothing if level is below
// the configured max.
func (l *Logger) Log(level Level, format string, args ...any) {
	if level < l.max {
		return
	}
	msg := fmt.Sprintf(format, args...)
	line := "\x1b[" + strconv.Itoa(colorCode[level]) + "m[" + names[level] + "] " + msg + "\x1b[0m\n"
	l.puts(line)
}

func (l *Logger) Errorf(format string, args ...any) { l.Log(Error, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.Log(Warn, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.Log(Info, format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.Log(Debug, format, args...) }
