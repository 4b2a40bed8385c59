// Package elog provides the rank-aware structured logger used by every
// subsystem of the core. It is adapted from the CLI logger used across the
// rest of this stack: the same logrus+color+colorable+isatty combination
// drives human-facing output, generalised here to tag every line with the
// rank that emitted it and to back the fatal diagnostic path with a bounded
// recent-lines buffer.
package elog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/armon/circbuf"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// recentLinesBytes bounds the circular buffer backing a Fatal call's
// "short context string" (error handling design, user-visible failure
// behaviour).
const recentLinesBytes = 4096

// Aborted is returned by Fatal to every collective caller; callers treat it
// as "stop the run", never retry it.
var Aborted = errors.New("elog: rank aborted the collective")

// Logger is a rank-tagged structured logger.
type Logger struct {
	rank   int
	entry  *logrus.Entry
	mu     sync.Mutex
	recent *circbuf.Buffer
	noColor bool
}

// New builds a Logger for the given rank, writing to w. When w is a
// terminal, colorized level-sensitive formatting is used; otherwise plain
// text is emitted so logs stay parseable in CI.
func New(rank int, w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)

	noColor := true
	if f, ok := w.(*os.File); ok {
		cw := colorable.NewColorable(f)
		l.SetOutput(cw)
		noColor = !isatty.IsTerminal(f.Fd())
	}

	l.SetFormatter(&rankFormatter{rank: rank, disableColors: noColor})

	recent, _ := circbuf.NewBuffer(recentLinesBytes)

	return &Logger{
		rank:    rank,
		entry:   l.WithField("rank", rank),
		recent:  recent,
		noColor: noColor,
	}
}

func (log *Logger) record(format string, x ...interface{}) string {
	line := fmt.Sprintf(format, x...)
	log.mu.Lock()
	_, _ = log.recent.Write([]byte(line + "\n"))
	log.mu.Unlock()
	return line
}

func (log *Logger) Debugf(format string, x ...interface{}) {
	log.entry.Debug(log.record(format, x...))
}

func (log *Logger) Infof(format string, x ...interface{}) {
	log.entry.Info(log.record(format, x...))
}

func (log *Logger) Warnf(format string, x ...interface{}) {
	log.entry.Warn(log.record(format, x...))
}

func (log *Logger) Errorf(format string, x ...interface{}) {
	log.entry.Error(log.record(format, x...))
}

// SetLevel controls which severities reach the output stream; the CLI
// wires this to its --verbose/--debug flags.
func (log *Logger) SetLevel(level logrus.Level) {
	log.entry.Logger.SetLevel(level)
}

// RecentContext returns the recent-lines buffer as a single string, the
// "short context string" that accompanies a fatal diagnostic.
func (log *Logger) RecentContext() string {
	log.mu.Lock()
	defer log.mu.Unlock()
	return string(log.recent.Bytes())
}

// Fatal emits exactly one structured diagnostic line carrying the error
// kind, the rank that first detected it, and the recent-lines context
// buffer, then returns Aborted. It never calls os.Exit itself — that
// decision belongs to the CLI driver, which maps a non-nil error from
// Runtime.Run to exit code 1.
func (log *Logger) Fatal(kind ErrorKind, context string, cause error) error {
	log.entry.WithFields(logrus.Fields{
		"kind":    kind,
		"context": context,
		"recent":  log.RecentContext(),
	}).Errorf("fatal: kind=%s context=%q recent=%q: %v", kind, context, log.RecentContext(), cause)
	return Aborted
}

// rankFormatter prefixes every line with its rank number and colorizes by
// level when the output stream is a terminal.
type rankFormatter struct {
	rank          int
	disableColors bool
}

func (f *rankFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	faint := color.New(color.Faint).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	blue := color.New(color.FgBlue).SprintFunc()

	msg := entry.Message
	prefixed := fmt.Sprintf("[rank %d] %s", f.rank, msg)

	if f.disableColors {
		return []byte(prefixed + "\n"), nil
	}

	switch entry.Level {
	case logrus.TraceLevel:
		prefixed = faint(prefixed)
	case logrus.DebugLevel:
		prefixed = blue(prefixed)
	case logrus.WarnLevel:
		prefixed = yellow(prefixed)
	case logrus.ErrorLevel:
		prefixed = red(prefixed)
	}

	return []byte(prefixed + "\n"), nil
}
