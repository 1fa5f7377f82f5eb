package install

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/frederic-klein/yapi/internal/req"
)

// State is a stage of an install run.
type State int

const (
	StateIdle State = iota
	StateCollected
	StatePrepared
	StateInstalled
	StateDownloaded
	StateBundled
	StateCleanedUp
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateCollected:  "collected",
	StatePrepared:   "prepared",
	StateInstalled:  "installed",
	StateDownloaded: "downloaded",
	StateBundled:    "bundled",
	StateCleanedUp:  "cleaned-up",
	StateDone:       "done",
	StateFailed:     "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Request is one invocation of the install command.
type Request struct {
	Command string // "install" or "bundle", used in messages
	Options Options
	Sources Sources

	// BundlePath is the output archive in bundle mode.
	BundlePath string
}

// Result summarizes a finished run.
type Result struct {
	State      State
	Plan       *Plan
	Installed  []string
	Downloaded []string
	BundlePath string
}

// Driver sequences one install run: normalize options, collect
// requirements, acquire or locate them, then install, stop after download,
// or bundle, and finally clean up and relocate. A Driver runs one request
// at a time.
type Driver struct {
	Env        Environment
	Redirector Redirector
	Reporter   Reporter

	NewFinder func(plan *Plan) Finder
	NewSet    func(plan *Plan) RequirementSet
	NewParser func(plan *Plan) RequirementFileParser

	history []State
}

// History returns the states visited by the last run, in order.
func (d *Driver) History() []State {
	return append([]State(nil), d.history...)
}

func (d *Driver) enter(s State) {
	d.history = append(d.history, s)
}

// Run executes r. A nil error with Result.State == StateDone and no
// requirements is the soft exit for an empty request. Per-requirement
// failures do not stop the run; they are returned, joined, once it is done.
func (d *Driver) Run(ctx context.Context, r Request) (*Result, error) {
	d.history = []State{StateIdle}
	command := r.Command
	if command == "" {
		command = "install"
	}

	if r.Options.Bundle && r.BundlePath == "" {
		return d.fail(nil, &UsageError{Msg: "you must give a bundle filename"})
	}

	plan, err := Normalize(r.Options, d.Env, d.Redirector, d.Reporter)
	if err != nil {
		return d.fail(nil, err)
	}
	res := &Result{Plan: plan}

	if plan.Bundle {
		d.Reporter.Notify(fmt.Sprintf("Putting temporary build files in %s and source/develop files in %s", plan.BuildDir, plan.SrcDir))
	}

	finder := d.NewFinder(plan)
	set := d.NewSet(plan)
	ok, err := Collect(plan, set, finder, d.NewParser(plan), r.Sources)
	if err != nil {
		return d.fail(plan, err)
	}
	if !ok {
		d.Reporter.Warn(emptyMessage(command, plan.FindLinks))
		d.discardStaging(plan)
		d.enter(StateDone)
		res.State = StateDone
		return res, nil
	}
	d.enter(StateCollected)

	if err := checkPreconditions(plan, set, d.Env); err != nil {
		return d.fail(plan, err)
	}

	var acquired []req.Outcome
	if !plan.NoDownload {
		acquired, err = set.PrepareFiles(ctx, finder, PrepareOptions{ForceRootEggInfo: plan.Bundle, Bundle: plan.Bundle})
	} else {
		acquired, err = set.LocateFiles(ctx)
	}
	if err != nil {
		return d.fail(plan, &AcquisitionError{Err: err})
	}
	var acqErr error
	if failed := req.Failed(acquired); len(failed) > 0 {
		acqErr = &AcquisitionError{Failures: failed}
	}
	d.enter(StatePrepared)

	var instErr error
	switch {
	case plan.Bundle:
		if err := set.CreateBundle(r.BundlePath); err != nil {
			return d.fail(plan, &InstallationError{Op: "bundle", Err: err})
		}
		res.BundlePath = r.BundlePath
		d.Reporter.Notify("Created bundle in " + r.BundlePath)
		d.enter(StateBundled)

	case plan.NoInstall:
		res.Downloaded = set.SuccessfullyDownloaded()
		if len(res.Downloaded) > 0 {
			d.Reporter.Notify("Successfully downloaded " + strings.Join(res.Downloaded, " "))
		}
		d.enter(StateDownloaded)

	default:
		installed, err := set.Install(ctx, plan.InstallOptions, plan.GlobalOptions, plan.RootPath)
		if err != nil {
			d.cleanup(plan, set)
			return d.fail(plan, &InstallationError{Op: "install", Err: err})
		}
		res.Installed = set.SuccessfullyInstalled()
		if len(res.Installed) > 0 {
			d.Reporter.Notify("Successfully installed " + strings.Join(res.Installed, " "))
		}
		if failed := req.Failed(installed); len(failed) > 0 {
			instErr = &InstallationError{Op: "install", Failures: failed}
		}
		d.enter(StateInstalled)
	}

	if d.cleanup(plan, set) {
		d.enter(StateCleanedUp)
	}

	if plan.TargetDir != "" {
		if err := d.Redirector.Relocate(plan.RedirectDir, plan.TargetDir); err != nil {
			d.enter(StateFailed)
			res.State = StateFailed
			return res, errors.Join(acqErr, instErr, err)
		}
	}

	d.enter(StateDone)
	res.State = StateDone
	return res, errors.Join(acqErr, instErr)
}

// cleanup removes build artifacts when an install happened or a download
// directory was given. Download-only runs without one keep their build
// directory so a later --no-download run can finish the install.
func (d *Driver) cleanup(plan *Plan, set RequirementSet) bool {
	if plan.NoInstall && plan.DownloadDir == "" {
		return false
	}
	if err := set.Cleanup(plan.Bundle); err != nil {
		d.Reporter.Warn(fmt.Sprintf("Cleaning up build files: %v", err))
	}
	return true
}

func (d *Driver) fail(plan *Plan, err error) (*Result, error) {
	d.discardStaging(plan)
	d.enter(StateFailed)
	return &Result{State: StateFailed, Plan: plan}, err
}

func (d *Driver) discardStaging(plan *Plan) {
	if plan == nil || plan.RedirectDir == "" {
		return
	}
	if err := d.Redirector.Discard(plan.RedirectDir); err != nil {
		d.Reporter.Warn(fmt.Sprintf("Removing %s: %v", plan.RedirectDir, err))
	}
}

// checkPreconditions runs after collection and before any acquisition.
func checkPreconditions(plan *Plan, set RequirementSet, env Environment) error {
	if !plan.UseUserSite {
		return nil
	}
	if !env.SupportsUserSite() {
		return &ConfigurationError{Msg: "--user is not supported by the active interpreter"}
	}
	if set.HasEditables() && !env.SupportsUserEditable() {
		return &ConfigurationError{Msg: "--user --editable is not supported by the active build tooling"}
	}
	return nil
}

func emptyMessage(command string, findLinks []string) string {
	if len(findLinks) > 0 {
		return fmt.Sprintf("You must give at least one requirement to %s (maybe you meant \"yapi %s %s\"?)", command, command, strings.Join(findLinks, " "))
	}
	return fmt.Sprintf("You must give at least one requirement to %s (see \"yapi help %s\")", command, command)
}
