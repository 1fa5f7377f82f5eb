package install

import (
	"context"
	"iter"

	"github.com/frederic-klein/yapi/internal/req"
	"github.com/frederic-klein/yapi/internal/reqfile"
)

type fakeEnv struct {
	noGlobal     bool
	userSite     bool
	userEditable bool
	venv         string
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{userSite: true, userEditable: true}
}

func (e *fakeEnv) NoGlobalSitePackages() bool { return e.noGlobal }
func (e *fakeEnv) SupportsUserSite() bool     { return e.userSite }
func (e *fakeEnv) SupportsUserEditable() bool { return e.userEditable }
func (e *fakeEnv) VirtualEnv() string         { return e.venv }
func (e *fakeEnv) SitePackages() []string     { return nil }

type fakeReporter struct {
	notices  []string
	warnings []string
}

func (r *fakeReporter) Notify(msg string) { r.notices = append(r.notices, msg) }
func (r *fakeReporter) Warn(msg string)   { r.warnings = append(r.warnings, msg) }

type fakeFinder struct {
	indexURLs []string
	findLinks []string
}

func (f *fakeFinder) SetIndexURL(u string)  { f.indexURLs = []string{u} }
func (f *fakeFinder) AddIndexURL(u string)  { f.indexURLs = append(f.indexURLs, u) }
func (f *fakeFinder) AddFindLinks(l string) { f.findLinks = append(f.findLinks, l) }
func (f *fakeFinder) ClearIndexURLs()       { f.indexURLs = nil }
func (f *fakeFinder) IndexURLs() []string   { return f.indexURLs }
func (f *fakeFinder) Find(context.Context, *req.Spec) (*req.Candidate, error) {
	return nil, nil
}

// fakeSet records the phase calls the driver makes. By default every
// requirement succeeds in every phase. Names in satisfied succeed without
// being downloaded or installed.
type fakeSet struct {
	specs []*req.Spec
	calls []string

	satisfied   map[string]bool
	failAcquire map[string]error
	failInstall map[string]error
	prepareErr  error
	installErr  error
	bundleErr   error

	installArgs struct {
		installOptions []string
		globalOptions  []string
		root           string
	}
	prepareOpts PrepareOptions
	bundlePath  string
	onInstall   func(installOptions []string) error

	downloaded []string
	installed  []string
}

func (s *fakeSet) Add(spec *req.Spec) { s.specs = append(s.specs, spec) }

func (s *fakeSet) HasRequirements() bool { return len(s.specs) > 0 }

func (s *fakeSet) HasEditables() bool {
	for _, spec := range s.specs {
		if spec.Editable {
			return true
		}
	}
	return false
}

func (s *fakeSet) outcomes(fail map[string]error) []req.Outcome {
	out := make([]req.Outcome, len(s.specs))
	for i, spec := range s.specs {
		out[i] = req.Outcome{Name: spec.Name, Err: fail[spec.Name]}
	}
	return out
}

func (s *fakeSet) PrepareFiles(_ context.Context, _ Finder, opts PrepareOptions) ([]req.Outcome, error) {
	s.calls = append(s.calls, "prepare")
	s.prepareOpts = opts
	if s.prepareErr != nil {
		return nil, s.prepareErr
	}
	for _, spec := range s.specs {
		if !s.satisfied[spec.Name] && s.failAcquire[spec.Name] == nil {
			s.downloaded = append(s.downloaded, spec.Name)
		}
	}
	return s.outcomes(s.failAcquire), nil
}

func (s *fakeSet) LocateFiles(context.Context) ([]req.Outcome, error) {
	s.calls = append(s.calls, "locate")
	return s.outcomes(s.failAcquire), nil
}

func (s *fakeSet) Install(_ context.Context, installOptions, globalOptions []string, root string) ([]req.Outcome, error) {
	s.calls = append(s.calls, "install")
	s.installArgs.installOptions = installOptions
	s.installArgs.globalOptions = globalOptions
	s.installArgs.root = root
	if s.installErr != nil {
		return nil, s.installErr
	}
	if s.onInstall != nil {
		if err := s.onInstall(installOptions); err != nil {
			return nil, err
		}
	}
	var out []req.Outcome
	for _, o := range s.outcomes(s.failInstall) {
		if s.failAcquire[o.Name] != nil || s.satisfied[o.Name] {
			continue
		}
		out = append(out, o)
		if o.OK() {
			s.installed = append(s.installed, o.Name)
		}
	}
	return out, nil
}

func (s *fakeSet) SuccessfullyDownloaded() []string { return s.downloaded }

func (s *fakeSet) SuccessfullyInstalled() []string { return s.installed }

func (s *fakeSet) Cleanup(bundle bool) error {
	s.calls = append(s.calls, "cleanup")
	return nil
}

func (s *fakeSet) CreateBundle(path string) error {
	s.calls = append(s.calls, "bundle")
	s.bundlePath = path
	return s.bundleErr
}

type fakeParser struct {
	files map[string][]*req.Spec
	err   error
}

func (p *fakeParser) Parse(path string, _ reqfile.IndexSink) iter.Seq2[*req.Spec, error] {
	return func(yield func(*req.Spec, error) bool) {
		for _, spec := range p.files[path] {
			if !yield(spec, nil) {
				return
			}
		}
		if p.err != nil {
			yield(nil, p.err)
		}
	}
}

// fakeRedirector stages into a fixed directory name without touching disk.
type fakeRedirector struct {
	staged    []string
	discarded []string
	relocated [][2]string
	stageErr  error
	relocErr  error
}

func (r *fakeRedirector) Stage() (string, error) {
	if r.stageErr != nil {
		return "", r.stageErr
	}
	dir := "/tmp/yapi-target-fake"
	r.staged = append(r.staged, dir)
	return dir, nil
}

func (r *fakeRedirector) Relocate(staging, target string) error {
	r.relocated = append(r.relocated, [2]string{staging, target})
	return r.relocErr
}

func (r *fakeRedirector) Discard(staging string) error {
	r.discarded = append(r.discarded, staging)
	return nil
}
