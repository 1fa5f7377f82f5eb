package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// Options are the raw option values of an install run, as parsed from
// flags and configuration.
type Options struct {
	BuildDir      string
	SrcDir        string
	DownloadDir   string
	DownloadCache string
	TargetDir     string
	RootPath      string

	Upgrade            bool
	ForceReinstall     bool
	IgnoreInstalled    bool
	IgnoreDependencies bool
	NoInstall          bool
	NoDownload         bool
	UseUserSite        bool
	AsEgg              bool
	Bundle             bool

	InstallOptions []string
	GlobalOptions  []string

	IndexURL       string
	ExtraIndexURLs []string
	NoIndex        bool
	FindLinks      []string
	DefaultVCS     string
}

// Plan is the normalized configuration of one install run. Its flags never
// contradict each other and its directories are absolute.
type Plan struct {
	BuildDir      string
	SrcDir        string
	DownloadDir   string
	DownloadCache string
	TargetDir     string
	RootPath      string

	// RedirectDir is the staging home used when TargetDir is set.
	RedirectDir string

	Upgrade            bool
	ForceReinstall     bool
	IgnoreInstalled    bool
	IgnoreDependencies bool
	NoInstall          bool
	NoDownload         bool
	UseUserSite        bool
	AsEgg              bool
	Bundle             bool

	InstallOptions []string
	GlobalOptions  []string

	IndexURLs  []string
	NoIndex    bool
	FindLinks  []string
	DefaultVCS string
}

// Normalize turns raw options into a Plan. Rules apply in order and later
// rules may override earlier ones:
//
//  1. a download directory forces NoInstall and IgnoreInstalled
//  2. build and source directories become absolute
//  3. --user fails in an environment isolated from global site-packages
//  4. --user is forwarded to the install step
//  5. a target directory forces IgnoreInstalled and stages a redirect home
//  6. index URLs are assembled, or dropped under --no-index
//
// The only side effect is creating the redirect staging directory.
func Normalize(opts Options, env Environment, redirector Redirector, reporter Reporter) (*Plan, error) {
	p := &Plan{
		SrcDir:             opts.SrcDir,
		BuildDir:           opts.BuildDir,
		Upgrade:            opts.Upgrade,
		ForceReinstall:     opts.ForceReinstall,
		IgnoreInstalled:    opts.IgnoreInstalled,
		IgnoreDependencies: opts.IgnoreDependencies,
		NoInstall:          opts.NoInstall,
		NoDownload:         opts.NoDownload,
		UseUserSite:        opts.UseUserSite,
		AsEgg:              opts.AsEgg,
		Bundle:             opts.Bundle,
		InstallOptions:     append([]string(nil), opts.InstallOptions...),
		GlobalOptions:      append([]string(nil), opts.GlobalOptions...),
		NoIndex:            opts.NoIndex,
		DefaultVCS:         opts.DefaultVCS,
	}

	var err error
	if p.DownloadDir, err = optionalPath(opts.DownloadDir); err != nil {
		return nil, err
	}
	if p.DownloadCache, err = optionalPath(opts.DownloadCache); err != nil {
		return nil, err
	}
	if p.RootPath, err = optionalPath(opts.RootPath); err != nil {
		return nil, err
	}
	for _, l := range opts.FindLinks {
		p.FindLinks = append(p.FindLinks, expandFindLinks(l))
	}

	// Bundles need every requirement fetched, installed or not.
	if p.Bundle {
		p.IgnoreInstalled = true
	}

	// 1
	if p.DownloadDir != "" {
		p.NoInstall = true
		p.IgnoreInstalled = true
	}

	// 2
	if p.BuildDir, err = absPath(opts.BuildDir); err != nil {
		return nil, err
	}
	if p.SrcDir, err = absPath(opts.SrcDir); err != nil {
		return nil, err
	}

	// 3, 4
	if p.UseUserSite {
		if env.NoGlobalSitePackages() {
			return nil, &ConfigurationError{Msg: "user install not permitted in this environment: user site-packages are not visible in this virtualenv"}
		}
		p.InstallOptions = append(p.InstallOptions, "--user")
	}

	// 5
	if opts.TargetDir != "" {
		p.IgnoreInstalled = true
		staging, err := redirector.Stage()
		if err != nil {
			return nil, fmt.Errorf("creating target staging directory: %w", err)
		}
		target, err := absPath(opts.TargetDir)
		if err != nil {
			redirector.Discard(staging)
			return nil, err
		}
		if info, err := os.Stat(target); err == nil && !info.IsDir() {
			redirector.Discard(staging)
			return nil, &UsageError{Msg: fmt.Sprintf("target path %s exists but is not a directory, will not continue", target)}
		}
		p.TargetDir = target
		p.RedirectDir = staging
		p.InstallOptions = append(p.InstallOptions, "--home="+staging)
	}

	// 6
	for _, u := range append([]string{opts.IndexURL}, opts.ExtraIndexURLs...) {
		if u != "" {
			p.IndexURLs = append(p.IndexURLs, u)
		}
	}
	if p.NoIndex {
		reporter.Notify("Ignoring indexes: " + strings.Join(p.IndexURLs, ","))
		p.IndexURLs = nil
	}

	return p, nil
}

func absPath(p string) (string, error) {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", &UsageError{Msg: "expanding " + p, Err: err}
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", p, err)
	}
	return abs, nil
}

func optionalPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	return absPath(p)
}

func expandFindLinks(location string) string {
	if strings.Contains(location, "://") {
		return location
	}
	if abs, err := absPath(location); err == nil {
		return abs
	}
	return location
}
