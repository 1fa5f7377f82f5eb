// Package report writes user-facing progress and summary messages.
package report

import (
	"io"

	"github.com/charmbracelet/log"
)

// Reporter writes leveled messages to a charm logger.
type Reporter struct {
	logger *log.Logger
}

// New creates a reporter writing to w. verbose enables debug output.
func New(w io.Writer, verbose bool) *Reporter {
	logger := log.NewWithOptions(w, log.Options{
		Prefix: "yapi",
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return &Reporter{logger: logger}
}

// Logger returns the underlying logger for collaborators that log on their own.
func (r *Reporter) Logger() *log.Logger {
	return r.logger
}

// Notify reports normal progress or a final summary.
func (r *Reporter) Notify(msg string) {
	r.logger.Info(msg)
}

// Warn reports a recoverable problem.
func (r *Reporter) Warn(msg string) {
	r.logger.Warn(msg)
}

// Debug reports detail shown only with --verbose.
func (r *Reporter) Debug(msg string, keyvals ...interface{}) {
	r.logger.Debug(msg, keyvals...)
}
