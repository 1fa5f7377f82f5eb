package req

import (
	"regexp"
	"strings"
)

// Kind tells where a requirement came from.
type Kind string

const (
	KindDirect   Kind = "direct"
	KindEditable Kind = "editable"
	KindFile     Kind = "file"
)

// Spec is one requested unit: a name-or-line specifier, an editable source,
// or an entry read from a requirement file.
type Spec struct {
	Line       string   // raw text as given, e.g. "Flask[async]>=2.0"
	Name       string   // project name, e.g. "Flask"
	Extras     []string // e.g. ["async"]
	Constraint string   // e.g. ">=2.0, <3.0"
	Kind       Kind
	Editable   bool
	VCS        string // "git" for editable checkouts, empty otherwise
	URL        string // archive URL, local archive path, or VCS URL
	Revision   string // VCS revision after "@", if any
	LocalDir   string // local project directory for path editables
	ComesFrom  string // "-r requirements.txt (line 3)" style origin
}

// Key returns the canonical project name used for duplicate detection.
func (s *Spec) Key() string {
	return CanonicalName(s.Name)
}

func (s *Spec) String() string {
	if s.Line != "" {
		return s.Line
	}
	return s.Name + s.Constraint
}

// Candidate is a concrete downloadable artifact chosen for a Spec.
type Candidate struct {
	Name     string
	Version  string
	URL      string // http(s) URL or local file path
	Filename string // e.g. "requests-2.31.0.tar.gz"
}

// IsLocal reports whether the candidate points at a file on disk.
func (c *Candidate) IsLocal() bool {
	return !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://")
}

// Outcome is the per-requirement result of a collaborator phase.
type Outcome struct {
	Name string
	Err  error
}

// OK reports whether the requirement passed the phase.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Failed returns the failed outcomes, in order.
func Failed(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

var separatorRe = regexp.MustCompile(`[-_.]+`)

// CanonicalName lowercases a project name and collapses runs of "-", "_"
// and "." into a single "-".
func CanonicalName(name string) string {
	return separatorRe.ReplaceAllString(strings.ToLower(name), "-")
}
