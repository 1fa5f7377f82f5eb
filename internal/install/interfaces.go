package install

import (
	"context"
	"iter"

	"github.com/frederic-klein/yapi/internal/req"
	"github.com/frederic-klein/yapi/internal/reqfile"
)

// Finder maps a requirement to a downloadable candidate. Requirement files
// may add index URLs and find-links locations to it while they are parsed.
type Finder interface {
	reqfile.IndexSink
	Find(ctx context.Context, spec *req.Spec) (*req.Candidate, error)
	IndexURLs() []string
}

// PrepareOptions tune the acquire-and-build phase.
type PrepareOptions struct {
	ForceRootEggInfo bool
	Bundle           bool
}

// RequirementSet acquires, builds, installs and cleans up a collection of
// requirements. Per-requirement results come back as outcomes; a non-nil
// error means the phase failed as a whole. Requirements that were already
// satisfied succeed in their outcome but are not named by
// SuccessfullyDownloaded or SuccessfullyInstalled.
type RequirementSet interface {
	Add(spec *req.Spec)
	HasRequirements() bool
	HasEditables() bool
	PrepareFiles(ctx context.Context, finder Finder, opts PrepareOptions) ([]req.Outcome, error)
	LocateFiles(ctx context.Context) ([]req.Outcome, error)
	Install(ctx context.Context, installOptions, globalOptions []string, root string) ([]req.Outcome, error)
	Cleanup(bundle bool) error
	CreateBundle(path string) error
	SuccessfullyDownloaded() []string
	SuccessfullyInstalled() []string
}

// RequirementFileParser turns a requirement file into a lazy sequence of specs.
type RequirementFileParser interface {
	Parse(path string, sink reqfile.IndexSink) iter.Seq2[*req.Spec, error]
}

// Reporter receives user-facing messages.
type Reporter interface {
	Notify(msg string)
	Warn(msg string)
}

// Redirector stages installs bound for an alternate target directory.
type Redirector interface {
	Stage() (string, error)
	Relocate(stagingDir, targetDir string) error
	Discard(stagingDir string) error
}
