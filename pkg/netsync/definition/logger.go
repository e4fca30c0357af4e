// Package definition holds the ambient collaborators every other package
// takes by interface rather than importing concretely: logging,
// observability events, peer id generation, and the goroutine-spawn
// indirection used by transport adapters. Nothing here is simulation
// state — it is the "pass an ObservabilitySink collaborator explicitly"
// half of spec.md §9's design notes.
package definition

import (
	"fmt"
	"log"
	"os"

	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

const calldepth = 2

const (
	levelInfo  = "INFO"
	levelWarn  = "WARN"
	levelError = "ERROR"
	levelDebug = "DEBUG"
	levelFatal = "FATAL"
)

// Logger is the logging collaborator every netsync component takes
// explicitly instead of reaching for a package-level logger.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})
	ToggleDebug(value bool) bool
}

func level(prefix, message string) string {
	return fmt.Sprintf("[%s]: %s", prefix, message)
}

// DefaultLogger is the stdlib-log-backed implementation used when no
// collaborator is supplied. tag, when non-empty, is folded into every
// level prefix so a process juggling several Engines (as the cluster test
// harness and any local multi-peer dev run do) can tell their log lines
// apart without the caller threading a peer id through every call site.
type DefaultLogger struct {
	*log.Logger
	debug bool
	tag   string
}

// NewDefaultLogger creates a DefaultLogger writing to stderr.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		Logger: log.New(os.Stderr, "netsync ", log.LstdFlags),
		debug:  false,
	}
}

// WithPeer returns a DefaultLogger sharing the same underlying *log.Logger
// but tagging every line with self, so logs from several peers running in
// one process can be told apart.
func (l *DefaultLogger) WithPeer(self types.PeerID) *DefaultLogger {
	return &DefaultLogger{Logger: l.Logger, debug: l.debug, tag: string(self)}
}

func (l *DefaultLogger) prefix(lvl string) string {
	if l.tag == "" {
		return lvl
	}
	return l.tag + "/" + lvl
}

func (l *DefaultLogger) Info(v ...interface{}) {
	l.Output(calldepth, level(l.prefix(levelInfo), fmt.Sprint(v...)))
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	l.Output(calldepth, level(l.prefix(levelInfo), fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Warn(v ...interface{}) {
	l.Output(calldepth, level(l.prefix(levelWarn), fmt.Sprint(v...)))
}

func (l *DefaultLogger) Warnf(format string, v ...interface{}) {
	l.Output(calldepth, level(l.prefix(levelWarn), fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Error(v ...interface{}) {
	l.Output(calldepth, level(l.prefix(levelError), fmt.Sprint(v...)))
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.Output(calldepth, level(l.prefix(levelError), fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Debug(v ...interface{}) {
	if l.debug {
		l.Output(calldepth, level(l.prefix(levelDebug), fmt.Sprint(v...)))
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.Output(calldepth, level(l.prefix(levelDebug), fmt.Sprintf(format, v...)))
	}
}

func (l *DefaultLogger) ToggleDebug(value bool) bool {
	l.debug = value
	return l.debug
}

func (l *DefaultLogger) Fatal(v ...interface{}) {
	l.Output(calldepth, level(l.prefix(levelFatal), fmt.Sprint(v...)))
	os.Exit(1)
}

func (l *DefaultLogger) Fatalf(format string, v ...interface{}) {
	l.Output(calldepth, level(l.prefix(levelFatal), fmt.Sprintf(format, v...)))
	os.Exit(1)
}

func (l *DefaultLogger) Panic(v ...interface{}) {
	l.Logger.Panic(v...)
}

func (l *DefaultLogger) Panicf(format string, v ...interface{}) {
	l.Logger.Panicf(format, v...)
}
