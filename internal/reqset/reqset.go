// Package reqset implements the requirement set that acquires, installs,
// bundles and cleans up the requirements of one install run.
package reqset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/frederic-klein/yapi/internal/bundle"
	"github.com/frederic-klein/yapi/internal/downloader"
	"github.com/frederic-klein/yapi/internal/extractor"
	"github.com/frederic-klein/yapi/internal/install"
	"github.com/frederic-klein/yapi/internal/req"
	"github.com/frederic-klein/yapi/internal/vcs"
)

// Config holds the plan values the set works from.
type Config struct {
	BuildDir      string
	SrcDir        string
	DownloadDir   string
	DownloadCache string

	IgnoreInstalled    bool
	Upgrade            bool
	ForceReinstall     bool
	IgnoreDependencies bool
	AsEgg              bool

	SitePackages []string
	Python       string
	Workers      int
}

// ConfigFromPlan copies the relevant plan fields into a Config.
func ConfigFromPlan(plan *install.Plan, env install.Environment) Config {
	return Config{
		BuildDir:           plan.BuildDir,
		SrcDir:             plan.SrcDir,
		DownloadDir:        plan.DownloadDir,
		DownloadCache:      plan.DownloadCache,
		IgnoreInstalled:    plan.IgnoreInstalled,
		Upgrade:            plan.Upgrade,
		ForceReinstall:     plan.ForceReinstall,
		IgnoreDependencies: plan.IgnoreDependencies,
		AsEgg:              plan.AsEgg,
		SitePackages:       env.SitePackages(),
	}
}

type entry struct {
	spec      *req.Spec
	candidate *req.Candidate

	archive        string // downloaded artifact
	archiveInBuild bool   // archive lives in the build dir and goes away on cleanup
	buildDir       string // BuildDir/<name>, removed on cleanup
	sourceDir      string // project root the setup script runs in
	checkedOut     bool   // sourceDir is a checkout made by this set
	version        string

	satisfied bool
	acquired  bool // downloaded or checked out by PrepareFiles
	err       error
}

// Set is an ordered collection of requirements. The first requirement
// added for a project wins; later duplicates are ignored.
type Set struct {
	cfg     Config
	entries []*entry
	byKey   map[string]*entry

	downloader *downloader.Downloader
	extractor  *extractor.Extractor
	checkouter Checkouter
	builder    Builder
	logger     *log.Logger

	installed []string
}

var _ install.RequirementSet = (*Set)(nil)

// Option customizes a Set.
type Option func(*Set)

// WithBuilder replaces the setup-script runner.
func WithBuilder(b Builder) Option {
	return func(s *Set) { s.builder = b }
}

// WithCheckouter replaces the VCS backend.
func WithCheckouter(c Checkouter) Option {
	return func(s *Set) { s.checkouter = c }
}

// New creates an empty set.
func New(cfg Config, logger *log.Logger, opts ...Option) *Set {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s := &Set{
		cfg:        cfg,
		byKey:      make(map[string]*entry),
		downloader: downloader.NewDownloader(cfg.Workers, cfg.DownloadCache),
		extractor:  extractor.NewExtractor(),
		checkouter: vcs.New(logger),
		builder:    NewPythonBuilder(cfg.Python, logger),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends spec unless a requirement for the same project is present.
func (s *Set) Add(spec *req.Spec) {
	if prev, ok := s.byKey[spec.Key()]; ok {
		s.logger.Debug("Ignoring duplicate requirement", "requirement", spec.String(), "kept", prev.spec.String())
		return
	}
	e := &entry{spec: spec}
	s.entries = append(s.entries, e)
	s.byKey[spec.Key()] = e
}

func (s *Set) HasRequirements() bool {
	return len(s.entries) > 0
}

func (s *Set) HasEditables() bool {
	for _, e := range s.entries {
		if e.spec.Editable {
			return true
		}
	}
	return false
}

// Requirements returns the specs in the set, dependencies included.
func (s *Set) Requirements() []*req.Spec {
	specs := make([]*req.Spec, len(s.entries))
	for i, e := range s.entries {
		specs[i] = e.spec
	}
	return specs
}

// PrepareFiles resolves, downloads and unpacks every requirement, adding
// dependencies as they are discovered. Requirements are processed in
// waves: each wave's downloads run in parallel, and the dependencies it
// reveals form the next wave.
func (s *Set) PrepareFiles(ctx context.Context, finder install.Finder, opts install.PrepareOptions) ([]req.Outcome, error) {
	for start := 0; start < len(s.entries); {
		wave := s.entries[start:]
		start = len(s.entries)

		var jobs []downloader.Job
		var pending []*entry
		for _, e := range wave {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			switch {
			case e.spec.Editable:
				if e.err = s.prepareEditable(ctx, e, opts); e.err == nil {
					e.acquired = true
					s.expand(e)
				}
				continue
			case s.alreadySatisfied(e):
				continue
			}

			cand, err := finder.Find(ctx, e.spec)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.err = err
				continue
			}
			e.candidate = cand
			e.version = cand.Version

			dir := s.cfg.DownloadDir
			if dir == "" {
				dir = s.cfg.BuildDir
				e.archiveInBuild = true
			}
			e.archive = filepath.Join(dir, cand.Filename)
			s.logger.Info("Downloading", "requirement", e.spec.String(), "file", cand.Filename)
			jobs = append(jobs, downloader.Job{Name: e.spec.Name, URL: cand.URL, DestPath: e.archive})
			pending = append(pending, e)
		}

		for i, res := range s.downloader.Download(ctx, jobs) {
			e := pending[i]
			if res.Error != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.err = fmt.Errorf("downloading %s: %w", e.candidate.URL, res.Error)
				continue
			}
			if e.err = s.unpack(ctx, e, opts); e.err == nil {
				e.acquired = true
				s.expand(e)
			}
		}
	}
	return s.outcomes(), nil
}

func (s *Set) alreadySatisfied(e *entry) bool {
	if s.cfg.IgnoreInstalled || s.cfg.Upgrade || s.cfg.ForceReinstall {
		return false
	}
	version, ok := installedVersion(s.cfg.SitePackages, e.spec.Name)
	if !ok || !req.Satisfies(version, e.spec.Constraint) {
		return false
	}
	s.logger.Info("Requirement already satisfied", "requirement", e.spec.String(), "version", version)
	e.satisfied = true
	e.version = version
	return true
}

func (s *Set) prepareEditable(ctx context.Context, e *entry, opts install.PrepareOptions) error {
	if e.spec.LocalDir != "" {
		e.sourceDir = e.spec.LocalDir
	} else {
		dest := filepath.Join(s.cfg.SrcDir, e.spec.Name)
		_, statErr := os.Stat(dest)
		if err := s.checkouter.Checkout(ctx, e.spec.VCS, e.spec.URL, e.spec.Revision, dest); err != nil {
			return fmt.Errorf("checking out %s: %w", e.spec.URL, err)
		}
		e.sourceDir = dest
		e.checkedOut = statErr != nil
	}
	return s.eggInfo(ctx, e, opts.ForceRootEggInfo)
}

func (s *Set) unpack(ctx context.Context, e *entry, opts install.PrepareOptions) error {
	e.buildDir = filepath.Join(s.cfg.BuildDir, e.spec.Name)
	if _, err := os.Stat(e.buildDir); err == nil {
		s.logger.Debug("Reusing build directory", "path", e.buildDir)
		e.sourceDir = projectRoot(e.buildDir)
	} else {
		root, err := s.extractor.Unpack(e.archive, e.buildDir)
		if err != nil {
			return err
		}
		e.sourceDir = root
	}
	return s.eggInfo(ctx, e, opts.ForceRootEggInfo)
}

// eggInfo generates metadata with the setup script when the project ships
// none, or always when forced.
func (s *Set) eggInfo(ctx context.Context, e *entry, force bool) error {
	_, err := s.extractor.ReadMetadata(e.sourceDir)
	if err == nil && !force {
		return nil
	}
	if err != nil && !errors.Is(err, extractor.ErrNoMetadata) {
		return err
	}
	if _, statErr := os.Stat(filepath.Join(e.sourceDir, "setup.py")); statErr != nil {
		return nil
	}
	if err := s.builder.Run(ctx, e.sourceDir, "setup.py", "egg_info"); err != nil {
		return fmt.Errorf("running egg_info: %w", err)
	}
	return nil
}

// expand queues the dependencies declared by e's metadata.
func (s *Set) expand(e *entry) {
	meta, err := s.extractor.ReadMetadata(e.sourceDir)
	if err != nil {
		s.logger.Debug("No metadata, dependencies not expanded", "requirement", e.spec.Name, "error", err)
		return
	}
	if e.version == "" {
		e.version = meta.Version
	}
	if s.cfg.IgnoreDependencies {
		return
	}
	for _, line := range meta.RequiresDist {
		dep, err := req.ParseLine(line, "from "+e.spec.Name)
		if err != nil {
			s.logger.Warn("Skipping dependency", "requirement", e.spec.Name, "dependency", line, "error", err)
			continue
		}
		if _, ok := s.byKey[dep.Key()]; ok {
			continue
		}
		s.logger.Debug("Adding dependency", "requirement", e.spec.Name, "dependency", dep.String())
		s.Add(dep)
	}
}

// LocateFiles finds the results of an earlier download-only run instead of
// downloading again.
func (s *Set) LocateFiles(ctx context.Context) ([]req.Outcome, error) {
	for _, e := range s.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.spec.Editable && s.alreadySatisfied(e) {
			continue
		}

		dir := filepath.Join(s.cfg.BuildDir, e.spec.Name)
		if e.spec.Editable {
			dir = e.spec.LocalDir
			if dir == "" {
				dir = filepath.Join(s.cfg.SrcDir, e.spec.Name)
			}
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			e.err = fmt.Errorf("no prior download found in %s", dir)
			continue
		}
		if e.spec.Editable {
			e.sourceDir = dir
		} else {
			e.buildDir = dir
			e.sourceDir = projectRoot(dir)
			if archive := s.leftoverArchive(e); archive != "" {
				e.archive = archive
				e.archiveInBuild = true
			}
		}
	}
	return s.outcomes(), nil
}

// leftoverArchive returns the archive of e that an earlier download-only run
// left in the build dir, or "".
func (s *Set) leftoverArchive(e *entry) string {
	files, err := os.ReadDir(s.cfg.BuildDir)
	if err != nil {
		return ""
	}
	for _, f := range files {
		if f.IsDir() || !req.IsArchive(f.Name()) {
			continue
		}
		name, _, ok := req.SplitArchiveName(f.Name())
		if ok && req.CanonicalName(name) == e.spec.Key() {
			return filepath.Join(s.cfg.BuildDir, f.Name())
		}
	}
	return ""
}

// Install runs the setup script of every acquired requirement. A failed
// requirement is reported in its outcome and the rest still install.
func (s *Set) Install(ctx context.Context, installOptions, globalOptions []string, root string) ([]req.Outcome, error) {
	var outcomes []req.Outcome
	for _, e := range s.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.satisfied || e.err != nil || e.sourceDir == "" {
			continue
		}

		args := append([]string{"setup.py"}, globalOptions...)
		if e.spec.Editable {
			args = append(args, "develop", "--no-deps")
			args = append(args, installOptions...)
		} else {
			args = append(args, "install", "--record", filepath.Join(e.sourceDir, "install-record.txt"))
			if !s.cfg.AsEgg {
				args = append(args, "--single-version-externally-managed")
			}
			args = append(args, installOptions...)
			if root != "" {
				args = append(args, "--root", root)
			}
		}

		s.logger.Info("Installing", "requirement", e.spec.Name)
		err := s.builder.Run(ctx, e.sourceDir, args...)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		outcomes = append(outcomes, req.Outcome{Name: e.spec.Name, Err: err})
		if err == nil {
			s.installed = append(s.installed, e.spec.Name)
		}
	}
	return outcomes, nil
}

// Cleanup removes the build directories and downloaded archives this set
// used. For bundles, source checkouts it made are removed as well.
// The build and source roots are removed when left empty.
func (s *Set) Cleanup(bundled bool) error {
	var errs []error
	for _, e := range s.entries {
		if e.buildDir != "" {
			errs = append(errs, os.RemoveAll(e.buildDir))
		}
		if e.archiveInBuild && e.archive != "" {
			if err := os.Remove(e.archive); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
		}
		if bundled && e.checkedOut {
			errs = append(errs, os.RemoveAll(e.sourceDir))
		}
	}

	os.Remove(s.cfg.BuildDir)
	if bundled {
		os.Remove(s.cfg.SrcDir)
	}
	return errors.Join(errs...)
}

// CreateBundle archives the build and source trees into path.
func (s *Set) CreateBundle(path string) error {
	var m bundle.Manifest
	for _, e := range s.entries {
		if e.err != nil || e.sourceDir == "" {
			continue
		}
		be := bundle.Entry{
			Name:     e.spec.Name,
			Version:  e.version,
			Editable: e.spec.Editable,
			Source:   e.spec.URL,
		}
		if e.candidate != nil {
			be.Source = e.candidate.URL
		}
		m.Requirements = append(m.Requirements, be)
	}
	return bundle.Write(path, m, s.cfg.BuildDir, s.cfg.SrcDir)
}

// SuccessfullyInstalled returns the requirements installed by Install.
func (s *Set) SuccessfullyInstalled() []string {
	return append([]string(nil), s.installed...)
}

// SuccessfullyDownloaded returns the requirements PrepareFiles downloaded or
// checked out. Already satisfied requirements are not included.
func (s *Set) SuccessfullyDownloaded() []string {
	var names []string
	for _, e := range s.entries {
		if e.err == nil && e.acquired {
			names = append(names, e.spec.Name)
		}
	}
	return names
}

func (s *Set) outcomes() []req.Outcome {
	out := make([]req.Outcome, len(s.entries))
	for i, e := range s.entries {
		out[i] = req.Outcome{Name: e.spec.Name, Err: e.err}
	}
	return out
}

// projectRoot returns the directory holding setup.py or PKG-INFO: dir
// itself, or its single subdirectory.
func projectRoot(dir string) string {
	for _, marker := range []string{"setup.py", "PKG-INFO"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return dir
		}
	}
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name())
	}
	return dir
}
