package req

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	lineRe     = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:\[([^\]]*)\])?\s*(.*)$`)
	archiveRe  = regexp.MustCompile(`^(.+?)-(\d[^-]*?)(?:\.tar\.gz|\.tgz|\.zip)$`)
	vcsSchemes = []string{"git", "hg", "svn", "bzr"}
)

// archiveSuffixes lists the source archive formats the extractor can unpack.
var archiveSuffixes = []string{".tar.gz", ".tgz", ".zip"}

// IsArchive reports whether name looks like a supported source archive.
func IsArchive(name string) bool {
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(strings.ToLower(name), s) {
			return true
		}
	}
	return false
}

// SplitArchiveName splits "Name-1.2.3.tar.gz" into ("Name", "1.2.3").
func SplitArchiveName(filename string) (name, version string, ok bool) {
	m := archiveRe.FindStringSubmatch(filepath.Base(filename))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ParseLine parses a direct requirement specifier: a project name with an
// optional extras list and version constraint, or a path/URL to an archive.
func ParseLine(line, comesFrom string) (*Spec, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty requirement")
	}

	if IsArchive(line) {
		name, version, ok := SplitArchiveName(line)
		if !ok {
			return nil, fmt.Errorf("cannot determine project name from archive %q", line)
		}
		return &Spec{
			Line:       line,
			Name:       name,
			Constraint: "==" + version,
			Kind:       KindDirect,
			URL:        line,
			ComesFrom:  comesFrom,
		}, nil
	}

	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("invalid requirement %q", line)
	}

	constraint := strings.TrimSpace(m[3])
	// Environment markers are not evaluated.
	if i := strings.Index(constraint, ";"); i != -1 {
		constraint = strings.TrimSpace(constraint[:i])
	}
	if constraint != "" && !strings.ContainsAny(constraint[:1], "=<>!~") {
		return nil, fmt.Errorf("invalid version constraint %q in %q", constraint, line)
	}
	if err := validateConstraint(constraint); err != nil {
		return nil, fmt.Errorf("invalid requirement %q: %w", line, err)
	}

	spec := &Spec{
		Line:       line,
		Name:       m[1],
		Constraint: constraint,
		Kind:       KindDirect,
		ComesFrom:  comesFrom,
	}
	if extras := strings.TrimSpace(m[2]); extras != "" {
		for _, e := range strings.Split(extras, ",") {
			if e = strings.TrimSpace(e); e != "" {
				spec.Extras = append(spec.Extras, e)
			}
		}
	}
	return spec, nil
}

// ParseEditable parses an editable specifier. Local directories are taken
// as-is; URLs must name the project with "#egg=". If the URL has no
// "vcs+" scheme prefix, defaultVCS (if set) is prepended.
func ParseEditable(s, defaultVCS string) (*Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty editable requirement")
	}

	if info, err := os.Stat(s); err == nil && info.IsDir() {
		abs, err := filepath.Abs(s)
		if err != nil {
			return nil, fmt.Errorf("resolving editable path %s: %w", s, err)
		}
		return &Spec{
			Line:     s,
			Name:     filepath.Base(abs),
			Kind:     KindEditable,
			Editable: true,
			LocalDir: abs,
		}, nil
	}

	raw := s
	scheme, _, hasScheme := strings.Cut(raw, "://")
	if !hasScheme {
		return nil, fmt.Errorf("%s should either be a path to a local project or a VCS url beginning with svn+, git+, hg+, or bzr+", s)
	}
	vcs, _, hasPlus := strings.Cut(scheme, "+")
	if !hasPlus {
		if defaultVCS == "" {
			return nil, fmt.Errorf("%s should either be a path to a local project or a VCS url beginning with svn+, git+, hg+, or bzr+", s)
		}
		vcs = defaultVCS
		raw = defaultVCS + "+" + raw
	}
	if !isVCS(vcs) {
		return nil, fmt.Errorf("unknown version control system %q in %s", vcs, s)
	}

	u, err := url.Parse(strings.TrimPrefix(raw, vcs+"+"))
	if err != nil {
		return nil, fmt.Errorf("parsing editable url %s: %w", s, err)
	}
	frag, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil, fmt.Errorf("parsing editable url fragment %s: %w", s, err)
	}
	egg := frag.Get("egg")
	if egg == "" {
		return nil, fmt.Errorf("could not detect requirement name for %s, please specify one with #egg=", s)
	}
	u.Fragment = ""

	var rev string
	if i := strings.LastIndex(u.Path, "@"); i != -1 {
		rev = u.Path[i+1:]
		u.Path = u.Path[:i]
	}

	return &Spec{
		Line:     s,
		Name:     egg,
		Kind:     KindEditable,
		Editable: true,
		VCS:      vcs,
		URL:      u.String(),
		Revision: rev,
	}, nil
}

func isVCS(name string) bool {
	for _, v := range vcsSchemes {
		if v == name {
			return true
		}
	}
	return false
}
