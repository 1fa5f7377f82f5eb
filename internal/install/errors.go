package install

import (
	"fmt"
	"strings"

	"github.com/frederic-klein/yapi/internal/req"
)

// ConfigurationError is a contradictory or unsupported option combination.
// It is always raised before any acquisition starts.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return e.Msg
}

// UsageError is malformed command input, such as a target path that is not
// a directory or an unparseable requirement.
type UsageError struct {
	Msg string
	Err error
}

func (e *UsageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

// AcquisitionError reports requirements that could not be resolved,
// downloaded, built or located. Err is set when the acquisition phase
// failed as a whole rather than per requirement.
type AcquisitionError struct {
	Failures []req.Outcome
	Err      error
}

// Names returns the failed requirement names, in order.
func (e *AcquisitionError) Names() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Name
	}
	return names
}

func (e *AcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquisition failed: %v", e.Err)
	}
	return "could not acquire " + describe(e.Failures)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// InstallationError reports a failure of the install phase, of bundle
// creation, or of relocating staged files into the target directory.
type InstallationError struct {
	Op       string // "install", "bundle" or "relocate"
	Failures []req.Outcome
	Err      error

	// Relocation only
	Entry      string
	Target     string
	StagingDir string // left behind for inspection when non-empty
}

// Names returns the failed requirement names, in order.
func (e *InstallationError) Names() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Name
	}
	return names
}

func (e *InstallationError) Error() string {
	switch {
	case e.Op == "relocate":
		msg := fmt.Sprintf("moving %s into %s: %v", e.Entry, e.Target, e.Err)
		if e.StagingDir != "" {
			msg += fmt.Sprintf(" (staged files left in %s)", e.StagingDir)
		}
		return msg
	case len(e.Failures) > 0:
		return "failed to install " + describe(e.Failures)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *InstallationError) Unwrap() error {
	return e.Err
}

func describe(failures []req.Outcome) string {
	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = fmt.Sprintf("%s (%v)", f.Name, f.Err)
	}
	return strings.Join(parts, ", ")
}
