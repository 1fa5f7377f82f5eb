// Package bundle writes and reads bundle archives: a gzipped tarball of
// the build and source trees of a prepared requirement set plus a YAML
// manifest describing what is inside.
package bundle

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ManifestName is the archive member holding the manifest.
const ManifestName = "bundle.yaml"

const formatVersion = 1

// ErrNoManifest is returned when an archive has no bundle.yaml.
var ErrNoManifest = errors.New("bundle has no manifest")

// ErrNotBundle is returned by Write when path holds something other than a
// bundle.
var ErrNotBundle = errors.New("refusing to overwrite a file that is not a bundle")

// Entry describes one bundled requirement.
type Entry struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version,omitempty"`
	Editable bool   `yaml:"editable,omitempty"`
	Source   string `yaml:"source,omitempty"` // VCS url or archive the entry came from
}

// Manifest is the content of bundle.yaml.
type Manifest struct {
	Version      int     `yaml:"version"`
	Requirements []Entry `yaml:"requirements"`
}

// Write creates the bundle at path from buildDir ("build/") and srcDir
// ("src/"). Either directory may be missing. Entries are written sorted
// by name. The archive is written next to path and renamed into place.
// An existing bundle at path is replaced; any other file is left alone.
func Write(path string, m Manifest, buildDir, srcDir string) error {
	if _, err := os.Stat(path); err == nil {
		if _, err := ReadManifest(path); err != nil {
			return fmt.Errorf("%s: %w: %v", path, ErrNotBundle, err)
		}
	}

	m.Version = formatVersion
	sorted := make([]Entry, len(m.Requirements))
	copy(sorted, m.Requirements)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	m.Requirements = sorted

	manifest, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating bundle: %w", err)
	}

	if err := writeArchive(f, manifest, buildDir, srcDir); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing bundle: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing bundle: %w", err)
	}
	return nil
}

func writeArchive(w io.Writer, manifest []byte, buildDir, srcDir string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{
		Name:     ManifestName,
		Mode:     0644,
		Size:     int64(len(manifest)),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if _, err := tw.Write(manifest); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	for _, tree := range []struct{ dir, prefix string }{{buildDir, "build"}, {srcDir, "src"}} {
		if tree.dir == "" {
			continue
		}
		if err := addTree(tw, tree.dir, tree.prefix); err != nil {
			return fmt.Errorf("adding %s: %w", tree.dir, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addTree(tw *tar.Writer, root, prefix string) error {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := prefix
		if rel != "." {
			name = prefix + "/" + filepath.ToSlash(rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// ReadManifest returns the manifest of the bundle at path.
func ReadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading bundle %s: %w", path, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, ErrNoManifest
		}
		if err != nil {
			return nil, fmt.Errorf("reading bundle %s: %w", path, err)
		}
		if hdr.Name != ManifestName {
			continue
		}

		var m Manifest
		if err := yaml.NewDecoder(tr).Decode(&m); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", ManifestName, err)
		}
		return &m, nil
	}
}
