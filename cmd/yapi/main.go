package main

import (
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/frederic-klein/yapi/internal/index"
	"github.com/frederic-klein/yapi/internal/install"
	"github.com/frederic-klein/yapi/internal/report"
	"github.com/frederic-klein/yapi/internal/reqfile"
	"github.com/frederic-klein/yapi/internal/reqset"
)

var (
	editables        []string
	requirementFiles []string
	buildDir         string
	targetDir        string
	downloadDir      string
	downloadCache    string
	srcDir           string
	rootPath         string
	upgrade          bool
	forceReinstall   bool
	ignoreInstalled  bool
	noDeps           bool
	noInstall        bool
	noDownload       bool
	useUserSite      bool
	asEgg            bool
	installOptions   []string
	globalOptions    []string
	indexURL         string
	extraIndexURLs   []string
	noIndex          bool
	findLinks        []string
	defaultVCS       string
	python           string

	configPath string
	verbose    bool
	workers    int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Yet Another Package Installer - installs Python packages from source",
		Long:          "yapi resolves, downloads, builds and installs Python source distributions and editable checkouts.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/yapi/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "Parallel download workers")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &install.UsageError{Msg: "invalid flags", Err: err}
	})

	installCmd := &cobra.Command{
		Use:   "install [flags] <requirement>...",
		Short: "Install packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, "install", args, "")
		},
	}
	addInstallFlags(installCmd)

	bundleCmd := &cobra.Command{
		Use:   "bundle [flags] <bundle file> <requirement>...",
		Short: "Create a bundle of packages and their build trees",
		RunE: func(cmd *cobra.Command, args []string) error {
			var bundlePath string
			if len(args) > 0 {
				bundlePath, args = args[0], args[1:]
			}
			return run(cmd, "bundle", args, bundlePath)
		},
	}
	addInstallFlags(bundleCmd)

	rootCmd.AddCommand(installCmd, bundleCmd)
	return rootCmd
}

func addInstallFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringArrayVarP(&editables, "editable", "e", nil, "Install a project in editable mode from a VCS url or local path")
	f.StringArrayVarP(&requirementFiles, "requirement", "r", nil, "Install all requirements listed in the given file")
	f.StringVarP(&buildDir, "build-dir", "b", "", "Unpack and build packages in this directory")
	f.StringVarP(&targetDir, "target", "t", "", "Install packages into this directory")
	f.StringVarP(&downloadDir, "download-dir", "d", "", "Download packages into this directory instead of installing them")
	f.StringVar(&downloadCache, "download-cache", "", "Cache downloaded packages in this directory")
	f.StringVar(&srcDir, "src", "", "Check out editable projects into this directory")
	f.StringVar(&srcDir, "source-dir", "", "Alias of --src")
	f.BoolVarP(&upgrade, "upgrade", "U", false, "Upgrade all packages to the newest available version")
	f.BoolVar(&forceReinstall, "force-reinstall", false, "Reinstall packages even if they are up to date")
	f.BoolVarP(&ignoreInstalled, "ignore-installed", "I", false, "Ignore the installed packages")
	f.BoolVar(&noDeps, "no-deps", false, "Do not install package dependencies")
	f.BoolVar(&noInstall, "no-install", false, "Download and unpack but do not install")
	f.BoolVar(&noDownload, "no-download", false, "Install what an earlier --no-install run left in the build directory")
	f.StringArrayVar(&installOptions, "install-option", nil, "Extra argument for the setup.py install command")
	f.StringArrayVar(&globalOptions, "global-option", nil, "Extra global option placed before the setup.py command")
	f.BoolVar(&useUserSite, "user", false, "Install to the user site-packages directory")
	f.BoolVar(&asEgg, "egg", false, "Install as self-contained egg-style packages")
	f.StringVar(&rootPath, "root", "", "Install everything relative to this alternate root directory")
	f.StringVarP(&indexURL, "index-url", "i", "", "Base URL of the package index")
	f.StringArrayVar(&extraIndexURLs, "extra-index-url", nil, "Extra package index URL")
	f.BoolVar(&noIndex, "no-index", false, "Ignore package indexes, use --find-links only")
	f.StringArrayVarP(&findLinks, "find-links", "f", nil, "Local directory of archives to look in")
	f.StringVar(&defaultVCS, "default-vcs", "", "VCS assumed for editable urls without a vcs+ prefix")
	f.StringVar(&python, "python", "", "Python interpreter that runs setup.py")
}

func run(cmd *cobra.Command, command string, args []string, bundlePath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return &install.UsageError{Msg: "loading configuration", Err: err}
	}

	reporter := report.New(os.Stderr, verbose)
	env := install.DetectEnvironment(cfg.UserEditable)
	bundle := command == "bundle"

	opts := install.Options{
		BuildDir:           firstNonEmpty(buildDir, cfg.BuildDir),
		SrcDir:             firstNonEmpty(srcDir, cfg.SrcDir),
		DownloadDir:        downloadDir,
		DownloadCache:      firstNonEmpty(downloadCache, cfg.DownloadCache),
		TargetDir:          targetDir,
		RootPath:           rootPath,
		Upgrade:            upgrade,
		ForceReinstall:     forceReinstall,
		IgnoreInstalled:    ignoreInstalled,
		IgnoreDependencies: noDeps,
		NoInstall:          noInstall,
		NoDownload:         noDownload,
		UseUserSite:        useUserSite,
		AsEgg:              asEgg,
		Bundle:             bundle,
		InstallOptions:     installOptions,
		GlobalOptions:      globalOptions,
		IndexURL:           firstNonEmpty(indexURL, cfg.IndexURL),
		ExtraIndexURLs:     append(append([]string(nil), cfg.ExtraIndexURLs...), extraIndexURLs...),
		NoIndex:            noIndex,
		FindLinks:          append(append([]string(nil), cfg.FindLinks...), findLinks...),
		DefaultVCS:         firstNonEmpty(defaultVCS, cfg.DefaultVCS),
	}
	if opts.BuildDir == "" {
		opts.BuildDir = install.DefaultBuildDir(env)
		if bundle {
			opts.BuildDir = backupDir(opts.BuildDir, "-bundle")
		}
	}
	if opts.SrcDir == "" {
		opts.SrcDir = install.DefaultSrcDir(env)
		if bundle {
			opts.SrcDir = backupDir(opts.SrcDir, "-bundle")
		}
	}

	interpreter := firstNonEmpty(python, cfg.Python)
	parallel := workers
	if parallel <= 0 {
		parallel = cfg.Workers
	}

	driver := &install.Driver{
		Env:        env,
		Redirector: install.NewTargetRedirector(),
		Reporter:   reporter,
		NewFinder: func(p *install.Plan) install.Finder {
			return index.NewFinder(p.IndexURLs, p.FindLinks, reporter.Logger())
		},
		NewSet: func(p *install.Plan) install.RequirementSet {
			c := reqset.ConfigFromPlan(p, env)
			c.Python = interpreter
			c.Workers = parallel
			return reqset.New(c, reporter.Logger())
		},
		NewParser: func(p *install.Plan) install.RequirementFileParser {
			return reqfile.NewParser(p.DefaultVCS, p.NoIndex)
		},
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = driver.Run(ctx, install.Request{
		Command:    command,
		Options:    opts,
		BundlePath: bundlePath,
		Sources: install.Sources{
			Args:             args,
			Editables:        editables,
			RequirementFiles: requirementFiles,
		},
	})
	return err
}

// exitCode maps usage and configuration problems to 2 and every other
// failure to 1.
func exitCode(err error) int {
	var cfgErr *install.ConfigurationError
	var usageErr *install.UsageError
	if errors.As(err, &cfgErr) || errors.As(err, &usageErr) {
		return 2
	}
	return 1
}

// backupDir returns dir+ext, or dir+ext+N for the first N that does not
// exist yet.
func backupDir(dir, ext string) string {
	candidate := dir + ext
	for n := 2; ; n++ {
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
		candidate = dir + ext + strconv.Itoa(n)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	log.SetPrefix(appName)
	log.SetReportTimestamp(false)
}
