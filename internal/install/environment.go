package install

import (
	"bufio"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Environment answers capability questions about the interpreter and the
// build tooling that packages get installed for.
type Environment interface {
	// NoGlobalSitePackages reports an isolated environment in which the
	// user site directory is not visible.
	NoGlobalSitePackages() bool
	// SupportsUserSite reports whether per-user installs are available.
	SupportsUserSite() bool
	// SupportsUserEditable reports whether the build tooling can do
	// per-user editable installs.
	SupportsUserEditable() bool
	// VirtualEnv returns the active virtual environment root, or "".
	VirtualEnv() string
	// SitePackages returns directories holding installed distributions.
	SitePackages() []string
}

// SystemEnvironment inspects the process environment.
type SystemEnvironment struct {
	venv         string
	userSite     bool
	userEditable bool
}

// DetectEnvironment builds a SystemEnvironment from $VIRTUAL_ENV.
// userEditable states whether the configured build tooling supports
// "--user" together with editable installs.
func DetectEnvironment(userEditable bool) *SystemEnvironment {
	return &SystemEnvironment{
		venv:         os.Getenv("VIRTUAL_ENV"),
		userSite:     true,
		userEditable: userEditable,
	}
}

func (e *SystemEnvironment) VirtualEnv() string { return e.venv }

func (e *SystemEnvironment) SupportsUserSite() bool { return e.userSite }

func (e *SystemEnvironment) SupportsUserEditable() bool { return e.userEditable }

// NoGlobalSitePackages checks both venv styles: pyvenv.cfg with
// include-system-site-packages = false, and the older marker file.
func (e *SystemEnvironment) NoGlobalSitePackages() bool {
	if e.venv == "" {
		return false
	}
	if v, ok := readPyvenvCfg(filepath.Join(e.venv, "pyvenv.cfg"))["include-system-site-packages"]; ok {
		return strings.EqualFold(v, "false")
	}
	matches, _ := filepath.Glob(filepath.Join(e.venv, "lib", "python*", "no-global-site-packages.txt"))
	return len(matches) > 0
}

func (e *SystemEnvironment) SitePackages() []string {
	if e.venv == "" {
		return nil
	}
	patterns := []string{
		filepath.Join(e.venv, "lib", "python*", "site-packages"),
		filepath.Join(e.venv, "Lib", "site-packages"),
	}
	var dirs []string
	for _, p := range patterns {
		matches, _ := filepath.Glob(p)
		dirs = append(dirs, matches...)
	}
	return dirs
}

func readPyvenvCfg(path string) map[string]string {
	values := make(map[string]string)
	f, err := os.Open(path)
	if err != nil {
		return values
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		values[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return values
}

// DefaultBuildDir is <venv>/build inside a virtualenv and
// <tmp>/yapi-build-<user> otherwise.
func DefaultBuildDir(env Environment) string {
	if venv := env.VirtualEnv(); venv != "" {
		return filepath.Join(venv, "build")
	}
	name := "yapi-build"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name += "-" + filepath.Base(u.Username)
	}
	return filepath.Join(os.TempDir(), name)
}

// DefaultSrcDir is <venv>/src inside a virtualenv and ./src otherwise.
func DefaultSrcDir(env Environment) string {
	if venv := env.VirtualEnv(); venv != "" {
		return filepath.Join(venv, "src")
	}
	return "src"
}
