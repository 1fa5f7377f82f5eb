package reqset

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frederic-klein/yapi/internal/bundle"
	"github.com/frederic-klein/yapi/internal/index"
	"github.com/frederic-klein/yapi/internal/install"
	"github.com/frederic-klein/yapi/internal/req"
)

// makeSdist writes name-version.tar.gz into dir with a PKG-INFO declaring
// the given dependencies.
func makeSdist(t *testing.T, dir, name, version string, requires ...string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%s-%s.tar.gz", name, version)))
	require.NoError(t, err)
	defer f.Close()
	gw := gzip.NewWriter(f)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	var info strings.Builder
	fmt.Fprintf(&info, "Metadata-Version: 2.1\nName: %s\nVersion: %s\n", name, version)
	for _, r := range requires {
		fmt.Fprintf(&info, "Requires-Dist: %s\n", r)
	}
	files := map[string]string{
		"PKG-INFO": info.String(),
		"setup.py": "from setuptools import setup\nsetup()\n",
	}
	root := fmt.Sprintf("%s-%s", name, version)
	for fname, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     root + "/" + fname,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
}

type builderCall struct {
	dir  string
	args []string
}

type fakeBuilder struct {
	calls []builderCall
	fail  map[string]error // by base name of dir
}

func (b *fakeBuilder) Run(_ context.Context, dir string, args ...string) error {
	b.calls = append(b.calls, builderCall{dir: dir, args: args})
	return b.fail[filepath.Base(dir)]
}

type fakeCheckouter struct {
	checkouts []string
}

func (c *fakeCheckouter) Checkout(_ context.Context, system, url, rev, dest string) error {
	c.checkouts = append(c.checkouts, system+" "+url+"@"+rev)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, "setup.py"), []byte("setup()"), 0644)
}

type fixture struct {
	cfg     Config
	links   string
	builder *fakeBuilder
	vcs     *fakeCheckouter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	links := filepath.Join(root, "links")
	require.NoError(t, os.MkdirAll(links, 0755))
	return &fixture{
		cfg: Config{
			BuildDir: filepath.Join(root, "build"),
			SrcDir:   filepath.Join(root, "src"),
			Workers:  2,
		},
		links:   links,
		builder: &fakeBuilder{},
		vcs:     &fakeCheckouter{},
	}
}

func (f *fixture) newSet() *Set {
	return New(f.cfg, nil, WithBuilder(f.builder), WithCheckouter(f.vcs))
}

func (f *fixture) finder() *index.Finder {
	return index.NewFinder(nil, []string{f.links}, nil)
}

func addLines(t *testing.T, s *Set, lines ...string) {
	t.Helper()
	for _, line := range lines {
		spec, err := req.ParseLine(line, "")
		require.NoError(t, err)
		s.Add(spec)
	}
}

func succeeded(outcomes []req.Outcome) []string {
	var out []string
	for _, o := range outcomes {
		if o.OK() {
			out = append(out, o.Name)
		}
	}
	return out
}

func names(outcomes []req.Outcome) []string {
	out := make([]string, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Name
	}
	return out
}

func TestAddFirstWins(t *testing.T) {
	s := newFixture(t).newSet()

	addLines(t, s, "Pkg_A>=1", "pkg-a==2.0")

	require.Len(t, s.Requirements(), 1)
	assert.Equal(t, ">=1", s.Requirements()[0].Constraint)
	assert.True(t, s.HasRequirements())
	assert.False(t, s.HasEditables())
}

func TestPrepareFilesExpandsDependencies(t *testing.T) {
	// Arrange
	f := newFixture(t)
	makeSdist(t, f.links, "pkg-a", "1.0", "pkg-b (>=2.0)", "extra-only; extra == \"test\"")
	makeSdist(t, f.links, "pkg-b", "1.5")
	makeSdist(t, f.links, "pkg-b", "2.1")
	s := f.newSet()
	addLines(t, s, "pkg-a")

	// Act
	outcomes, err := s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a", "pkg-b"}, names(outcomes))
	assert.Empty(t, req.Failed(outcomes))
	assert.FileExists(t, filepath.Join(f.cfg.BuildDir, "pkg-a", "pkg-a-1.0", "setup.py"))
	assert.FileExists(t, filepath.Join(f.cfg.BuildDir, "pkg-b", "pkg-b-2.1", "setup.py"))
	assert.FileExists(t, filepath.Join(f.cfg.BuildDir, "pkg-b-2.1.tar.gz"))
	assert.Equal(t, "from pkg-a", s.Requirements()[1].ComesFrom)
	assert.Empty(t, f.builder.calls)
	assert.Equal(t, []string{"pkg-a", "pkg-b"}, s.SuccessfullyDownloaded())
}

func TestPrepareFilesIgnoreDependencies(t *testing.T) {
	f := newFixture(t)
	f.cfg.IgnoreDependencies = true
	makeSdist(t, f.links, "pkg-a", "1.0", "pkg-b")
	s := f.newSet()
	addLines(t, s, "pkg-a")

	outcomes, err := s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})

	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a"}, names(outcomes))
}

func TestPrepareFilesMissingContinues(t *testing.T) {
	// Arrange
	f := newFixture(t)
	makeSdist(t, f.links, "pkg-a", "1.0")
	s := f.newSet()
	addLines(t, s, "nowhere", "pkg-a")

	// Act
	outcomes, err := s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})

	// Assert
	require.NoError(t, err)
	failed := req.Failed(outcomes)
	require.Len(t, failed, 1)
	assert.Equal(t, "nowhere", failed[0].Name)
	assert.ErrorIs(t, failed[0].Err, index.ErrNotFound)
	assert.Equal(t, []string{"pkg-a"}, succeeded(outcomes))
}

func TestPrepareFilesCanceled(t *testing.T) {
	f := newFixture(t)
	s := f.newSet()
	addLines(t, s, "pkg-a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.PrepareFiles(ctx, f.finder(), install.PrepareOptions{})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrepareFilesAlreadySatisfied(t *testing.T) {
	// Arrange
	f := newFixture(t)
	site := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(site, "pkg_a-1.2.dist-info"), 0755))
	f.cfg.SitePackages = []string{site}
	s := f.newSet()
	addLines(t, s, "pkg-a>=1.0")

	// Act
	outcomes, err := s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})
	require.NoError(t, err)
	installed, err := s.Install(context.Background(), nil, nil, "")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a"}, succeeded(outcomes))
	assert.Empty(t, installed)
	assert.Empty(t, s.SuccessfullyDownloaded())
	assert.Empty(t, s.SuccessfullyInstalled())
	assert.NoDirExists(t, filepath.Join(f.cfg.BuildDir, "pkg-a"))
}

func TestSuccessfullyDownloadedSkipsSatisfied(t *testing.T) {
	// Arrange
	f := newFixture(t)
	site := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(site, "pkg_a-1.2.dist-info"), 0755))
	f.cfg.SitePackages = []string{site}
	makeSdist(t, f.links, "pkg-b", "1.0")
	s := f.newSet()
	addLines(t, s, "pkg-a", "pkg-b", "missing")
	spec, err := req.ParseEditable("git+https://example.com/ed.git#egg=ed", "")
	require.NoError(t, err)
	s.Add(spec)

	// Act
	outcomes, err := s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a", "pkg-b", "ed"}, succeeded(outcomes))
	assert.Equal(t, []string{"pkg-b", "ed"}, s.SuccessfullyDownloaded())
}

func TestPrepareFilesIgnoreInstalled(t *testing.T) {
	f := newFixture(t)
	site := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(site, "pkg_a-1.0.dist-info"), 0755))
	f.cfg.SitePackages = []string{site}
	f.cfg.IgnoreInstalled = true
	makeSdist(t, f.links, "pkg-a", "1.0")
	s := f.newSet()
	addLines(t, s, "pkg-a")

	_, err := s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})

	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(f.cfg.BuildDir, "pkg-a"))
}

func TestPrepareFilesDownloadDir(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.cfg.DownloadDir = t.TempDir()
	makeSdist(t, f.links, "pkg-b", "1.0")
	s := f.newSet()
	addLines(t, s, "pkg-b")

	// Act
	_, err := s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Cleanup(false))

	// Assert
	assert.FileExists(t, filepath.Join(f.cfg.DownloadDir, "pkg-b-1.0.tar.gz"))
	assert.NoDirExists(t, f.cfg.BuildDir)
}

func TestPrepareFilesEditable(t *testing.T) {
	// Arrange
	f := newFixture(t)
	s := f.newSet()
	spec, err := req.ParseEditable("git+https://example.com/ed.git@v1#egg=ed", "")
	require.NoError(t, err)
	s.Add(spec)

	// Act
	outcomes, err := s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{ForceRootEggInfo: true})

	// Assert
	require.NoError(t, err)
	assert.Empty(t, req.Failed(outcomes))
	assert.Equal(t, []string{"git https://example.com/ed.git@v1"}, f.vcs.checkouts)
	require.Len(t, f.builder.calls, 1)
	assert.Equal(t, filepath.Join(f.cfg.SrcDir, "ed"), f.builder.calls[0].dir)
	assert.Equal(t, []string{"setup.py", "egg_info"}, f.builder.calls[0].args)
}

func TestInstallArguments(t *testing.T) {
	// Arrange
	f := newFixture(t)
	makeSdist(t, f.links, "pkg-a", "1.0")
	local := filepath.Join(t.TempDir(), "localpkg")
	require.NoError(t, os.MkdirAll(local, 0755))
	s := f.newSet()
	addLines(t, s, "pkg-a")
	spec, err := req.ParseEditable(local, "")
	require.NoError(t, err)
	s.Add(spec)
	_, err = s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})
	require.NoError(t, err)

	// Act
	outcomes, err := s.Install(context.Background(), []string{"--user"}, []string{"--quiet"}, "/r")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a", "localpkg"}, succeeded(outcomes))
	require.Len(t, f.builder.calls, 2)
	srcDir := filepath.Join(f.cfg.BuildDir, "pkg-a", "pkg-a-1.0")
	assert.Equal(t, srcDir, f.builder.calls[0].dir)
	assert.Equal(t, []string{
		"setup.py", "--quiet", "install", "--record", filepath.Join(srcDir, "install-record.txt"),
		"--single-version-externally-managed", "--user", "--root", "/r",
	}, f.builder.calls[0].args)
	assert.Equal(t, local, f.builder.calls[1].dir)
	assert.Equal(t, []string{"setup.py", "--quiet", "develop", "--no-deps", "--user"}, f.builder.calls[1].args)
	assert.Equal(t, []string{"pkg-a", "localpkg"}, s.SuccessfullyInstalled())
}

func TestInstallAsEgg(t *testing.T) {
	f := newFixture(t)
	f.cfg.AsEgg = true
	makeSdist(t, f.links, "pkg-a", "1.0")
	s := f.newSet()
	addLines(t, s, "pkg-a")
	_, err := s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})
	require.NoError(t, err)

	_, err = s.Install(context.Background(), nil, nil, "")

	require.NoError(t, err)
	require.Len(t, f.builder.calls, 1)
	assert.NotContains(t, f.builder.calls[0].args, "--single-version-externally-managed")
}

func TestInstallPartialFailure(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.builder.fail = map[string]error{"pkg-b-1.0": errors.New("exit status 1")}
	makeSdist(t, f.links, "pkg-a", "1.0")
	makeSdist(t, f.links, "pkg-b", "1.0")
	makeSdist(t, f.links, "pkg-c", "1.0")
	s := f.newSet()
	addLines(t, s, "pkg-a", "pkg-b", "pkg-c", "missing")
	_, err := s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})
	require.NoError(t, err)

	// Act
	outcomes, err := s.Install(context.Background(), nil, nil, "")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a", "pkg-b", "pkg-c"}, names(outcomes))
	failed := req.Failed(outcomes)
	require.Len(t, failed, 1)
	assert.Equal(t, "pkg-b", failed[0].Name)
	assert.Equal(t, []string{"pkg-a", "pkg-c"}, s.SuccessfullyInstalled())
}

func TestLocateFiles(t *testing.T) {
	// Arrange
	f := newFixture(t)
	makeSdist(t, f.links, "pkg-d", "1.0")
	first := f.newSet()
	addLines(t, first, "pkg-d")
	_, err := first.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})
	require.NoError(t, err)

	second := f.newSet()
	addLines(t, second, "pkg-d", "pkg-e")

	// Act
	outcomes, err := second.LocateFiles(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-d"}, succeeded(outcomes))
	failed := req.Failed(outcomes)
	require.Len(t, failed, 1)
	assert.Equal(t, "pkg-e", failed[0].Name)
	assert.Contains(t, failed[0].Err.Error(), "no prior download found")

	_, err = second.Install(context.Background(), nil, nil, "")
	require.NoError(t, err)
	require.Len(t, f.builder.calls, 1)
	assert.Equal(t, filepath.Join(f.cfg.BuildDir, "pkg-d", "pkg-d-1.0"), f.builder.calls[0].dir)
}

func TestLocateFilesCleanupRemovesLeftoverArchive(t *testing.T) {
	// Arrange
	f := newFixture(t)
	makeSdist(t, f.links, "pkg-d", "1.0")
	first := f.newSet()
	addLines(t, first, "pkg-d")
	_, err := first.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(f.cfg.BuildDir, "pkg-d-1.0.tar.gz"))

	second := f.newSet()
	addLines(t, second, "pkg-d")
	_, err = second.LocateFiles(context.Background())
	require.NoError(t, err)
	_, err = second.Install(context.Background(), nil, nil, "")
	require.NoError(t, err)

	// Act
	err = second.Cleanup(false)

	// Assert
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(f.cfg.BuildDir, "pkg-d-1.0.tar.gz"))
	assert.NoDirExists(t, f.cfg.BuildDir)
	assert.Empty(t, second.SuccessfullyDownloaded())
	assert.Equal(t, []string{"pkg-d"}, second.SuccessfullyInstalled())
}

func TestCleanup(t *testing.T) {
	// Arrange
	f := newFixture(t)
	makeSdist(t, f.links, "pkg-a", "1.0")
	s := f.newSet()
	addLines(t, s, "pkg-a")
	spec, err := req.ParseEditable("git+https://example.com/ed.git#egg=ed", "")
	require.NoError(t, err)
	s.Add(spec)
	_, err = s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{})
	require.NoError(t, err)

	t.Run("install keeps checkouts", func(t *testing.T) {
		require.NoError(t, s.Cleanup(false))

		assert.NoDirExists(t, f.cfg.BuildDir)
		assert.DirExists(t, filepath.Join(f.cfg.SrcDir, "ed"))
	})

	t.Run("bundle removes checkouts", func(t *testing.T) {
		require.NoError(t, s.Cleanup(true))

		assert.NoDirExists(t, f.cfg.SrcDir)
	})
}

func TestCreateBundle(t *testing.T) {
	// Arrange
	f := newFixture(t)
	makeSdist(t, f.links, "pkg-a", "1.0")
	s := f.newSet()
	addLines(t, s, "pkg-a", "missing")
	spec, err := req.ParseEditable("git+https://example.com/ed.git#egg=ed", "")
	require.NoError(t, err)
	s.Add(spec)
	_, err = s.PrepareFiles(context.Background(), f.finder(), install.PrepareOptions{Bundle: true})
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "out.pybundle")

	// Act
	err = s.CreateBundle(out)

	// Assert
	require.NoError(t, err)
	m, err := bundle.ReadManifest(out)
	require.NoError(t, err)
	require.Len(t, m.Requirements, 2)
	assert.Equal(t, "ed", m.Requirements[0].Name)
	assert.True(t, m.Requirements[0].Editable)
	assert.Equal(t, "https://example.com/ed.git", m.Requirements[0].Source)
	assert.Equal(t, "pkg-a", m.Requirements[1].Name)
	assert.Equal(t, "1.0", m.Requirements[1].Version)
}

func TestInstalledVersion(t *testing.T) {
	site := t.TempDir()
	for _, d := range []string{"Foo_Bar-2.0.dist-info", "baz-0.3-py3.11.egg-info", "notes.txt"} {
		require.NoError(t, os.MkdirAll(filepath.Join(site, d), 0755))
	}

	tests := []struct {
		name    string
		version string
		found   bool
	}{
		{"foo-bar", "2.0", true},
		{"Baz", "0.3", true},
		{"qux", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, found := installedVersion([]string{"/nonexistent", site}, tt.name)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.version, version)
		})
	}
}
