package reqset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
)

// Builder runs a project's setup script inside its source directory.
type Builder interface {
	Run(ctx context.Context, dir string, args ...string) error
}

// Checkouter fetches editable sources from version control.
type Checkouter interface {
	Checkout(ctx context.Context, system, url, rev, dest string) error
}

// PythonBuilder runs setup scripts with a Python interpreter.
type PythonBuilder struct {
	Python string
	logger *log.Logger
}

// NewPythonBuilder creates a builder for the given interpreter, "python"
// when empty.
func NewPythonBuilder(python string, logger *log.Logger) *PythonBuilder {
	if python == "" {
		python = "python"
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &PythonBuilder{Python: python, logger: logger}
}

// Run executes `python args...` in dir. Output is kept and attached to the
// error when the command fails.
func (b *PythonBuilder) Run(ctx context.Context, dir string, args ...string) error {
	b.logger.Debug("Running", "dir", dir, "cmd", b.Python+" "+strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, b.Python, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w\n%s", b.Python, strings.Join(args, " "), err, tail(out.String(), 20))
	}
	return nil
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
