package extractor

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

// Metadata is the subset of PKG-INFO the installer cares about.
type Metadata struct {
	Name         string
	Version      string
	RequiresDist []string // requirement lines, markers and extras stripped
}

// ErrNoMetadata is returned when an unpacked project has no PKG-INFO.
var ErrNoMetadata = errors.New("no PKG-INFO found")

// Extractor unpacks source archives.
type Extractor struct{}

// NewExtractor creates a new extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Unpack extracts archive into destDir and returns the project root: the
// single top-level directory of the archive if there is one, destDir otherwise.
func (e *Extractor) Unpack(archivePath, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", destDir, err)
	}

	lower := strings.ToLower(archivePath)
	var roots map[string]bool
	var err error
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		roots, err = e.unpackTarGz(archivePath, destDir)
	case strings.HasSuffix(lower, ".zip"):
		roots, err = e.unpackZip(archivePath, destDir)
	default:
		return "", fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
	if err != nil {
		return "", fmt.Errorf("unpacking %s: %w", filepath.Base(archivePath), err)
	}

	if len(roots) == 1 {
		for root := range roots {
			if info, err := os.Stat(filepath.Join(destDir, root)); err == nil && info.IsDir() {
				return filepath.Join(destDir, root), nil
			}
		}
	}
	return destDir, nil
}

func (e *Extractor) unpackTarGz(archivePath, destDir string) (map[string]bool, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	roots := make(map[string]bool)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		target, root, err := safeJoin(destDir, header.Name)
		if err != nil {
			return nil, err
		}
		if root != "" {
			roots[root] = true
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			if err := writeFile(target, tarReader, os.FileMode(header.Mode)); err != nil {
				return nil, err
			}
		}
	}
	return roots, nil
}

func (e *Extractor) unpackZip(archivePath, destDir string) (map[string]bool, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	roots := make(map[string]bool)
	for _, f := range zr.File {
		target, root, err := safeJoin(destDir, f.Name)
		if err != nil {
			return nil, err
		}
		if root != "" {
			roots[root] = true
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		err = writeFile(target, rc, f.Mode())
		rc.Close()
		if err != nil {
			return nil, err
		}
	}
	return roots, nil
}

// safeJoin joins an archive member name onto destDir, rejecting members that
// would land outside it. It also returns the member's top-level component.
func safeJoin(destDir, name string) (string, string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("archive member %q escapes destination", name)
	}
	root, _, _ := strings.Cut(filepath.ToSlash(clean), "/")
	if root == "." {
		root = ""
	}
	return filepath.Join(destDir, clean), root, nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if mode&0600 != 0600 {
		mode |= 0600
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadMetadata reads PKG-INFO from a project root, falling back to the one
// inside a *.egg-info directory.
func (e *Extractor) ReadMetadata(projectDir string) (*Metadata, error) {
	candidates := []string{filepath.Join(projectDir, "PKG-INFO")}
	if matches, err := filepath.Glob(filepath.Join(projectDir, "*.egg-info", "PKG-INFO")); err == nil {
		candidates = append(candidates, matches...)
	}

	for _, path := range candidates {
		data, err := os.Open(path)
		if err != nil {
			continue
		}
		meta, err := parsePKGInfo(data)
		data.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return meta, nil
	}
	return nil, ErrNoMetadata
}

func parsePKGInfo(r io.Reader) (*Metadata, error) {
	tp := textproto.NewReader(bufio.NewReader(r))
	header, err := tp.ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	meta := &Metadata{
		Name:    header.Get("Name"),
		Version: header.Get("Version"),
	}
	for _, line := range header.Values("Requires-Dist") {
		spec, marker, _ := strings.Cut(line, ";")
		// Optional dependencies only apply when the extra is requested.
		if strings.Contains(marker, "extra") {
			continue
		}
		if spec = strings.TrimSpace(spec); spec != "" {
			meta.RequiresDist = append(meta.RequiresDist, normalizeRequirement(spec))
		}
	}
	return meta, nil
}

// normalizeRequirement turns the "name (>=1.0)" form into "name>=1.0".
func normalizeRequirement(spec string) string {
	open := strings.Index(spec, "(")
	if open == -1 || !strings.HasSuffix(spec, ")") {
		return spec
	}
	return strings.TrimSpace(spec[:open]) + strings.TrimSpace(spec[open+1:len(spec)-1])
}
