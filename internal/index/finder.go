package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/frederic-klein/yapi/internal/req"
)

const (
	// DefaultIndexURL is the primary package index.
	DefaultIndexURL = "https://pypi.org/simple"

	simpleJSON = "application/vnd.pypi.simple.v1+json"
)

// ErrNotFound is returned when no candidate satisfies a requirement.
var ErrNotFound = errors.New("no matching distribution found")

// Yanked handles the PEP 691 "yanked" field, which is either a bool or a
// reason string.
type Yanked bool

func (y *Yanked) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*y = Yanked(b)
		return nil
	}
	var reason string
	if err := json.Unmarshal(data, &reason); err == nil {
		*y = reason != ""
		return nil
	}
	*y = false
	return nil
}

// ProjectFile is one file entry on a project page.
type ProjectFile struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Yanked   Yanked `json:"yanked"`
}

// ProjectPage is the JSON simple API response for a project.
type ProjectPage struct {
	Name  string        `json:"name"`
	Files []ProjectFile `json:"files"`
}

// Finder maps requirement specs to downloadable source archives using
// package indexes and local find-links directories.
type Finder struct {
	indexURLs []string
	findLinks []string
	client    *http.Client
	logger    *log.Logger
}

// NewFinder creates a finder over the given indexes and find-links locations.
func NewFinder(indexURLs, findLinks []string, logger *log.Logger) *Finder {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	f := &Finder{
		client: &http.Client{},
		logger: logger,
	}
	for _, u := range indexURLs {
		f.AddIndexURL(u)
	}
	for _, l := range findLinks {
		f.AddFindLinks(l)
	}
	return f
}

// IndexURLs returns the index URLs in lookup order.
func (f *Finder) IndexURLs() []string {
	return append([]string(nil), f.indexURLs...)
}

// FindLinks returns the find-links locations in lookup order.
func (f *Finder) FindLinks() []string {
	return append([]string(nil), f.findLinks...)
}

// AddIndexURL appends an index URL unless it is already present.
func (f *Finder) AddIndexURL(u string) {
	u = strings.TrimSuffix(u, "/")
	for _, have := range f.indexURLs {
		if have == u {
			return
		}
	}
	f.indexURLs = append(f.indexURLs, u)
}

// SetIndexURL replaces every index with u.
func (f *Finder) SetIndexURL(u string) {
	f.indexURLs = []string{strings.TrimSuffix(u, "/")}
}

// AddFindLinks appends a local directory or URL to scan for archives.
func (f *Finder) AddFindLinks(location string) {
	f.findLinks = append(f.findLinks, location)
}

// ClearIndexURLs drops every configured index.
func (f *Finder) ClearIndexURLs() {
	f.indexURLs = nil
}

// Find returns the best candidate for spec: the highest final release that
// satisfies its constraint, or the highest pre-release if that is all there is.
func (f *Finder) Find(ctx context.Context, spec *req.Spec) (*req.Candidate, error) {
	if spec.URL != "" && !spec.Editable {
		return f.direct(spec)
	}

	var candidates []req.Candidate
	for _, location := range f.findLinks {
		found, err := f.scanFindLinks(location, spec)
		if err != nil {
			f.logger.Warn("Skipping find-links location", "location", location, "error", err)
			continue
		}
		candidates = append(candidates, found...)
	}
	for _, indexURL := range f.indexURLs {
		found, err := f.lookupIndex(ctx, indexURL, spec)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Warn("Index lookup failed", "index", indexURL, "project", spec.Name, "error", err)
			continue
		}
		candidates = append(candidates, found...)
	}

	best := pickBest(candidates, spec.Constraint)
	if best == nil {
		return nil, fmt.Errorf("%w for %s", ErrNotFound, spec)
	}
	f.logger.Debug("Found candidate", "project", spec.Name, "version", best.Version, "url", best.URL)
	return best, nil
}

func (f *Finder) direct(spec *req.Spec) (*req.Candidate, error) {
	name, version, _ := req.SplitArchiveName(spec.URL)
	c := &req.Candidate{
		Name:     name,
		Version:  version,
		URL:      spec.URL,
		Filename: filepath.Base(spec.URL),
	}
	if c.IsLocal() {
		abs, err := filepath.Abs(spec.URL)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", spec.URL, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrNotFound, spec, err)
		}
		c.URL = abs
	}
	return c, nil
}

func (f *Finder) scanFindLinks(location string, spec *req.Spec) ([]req.Candidate, error) {
	if strings.Contains(location, "://") {
		// Remote find-links pages are not supported; indexes cover that case.
		return nil, fmt.Errorf("remote find-links not supported")
	}
	entries, err := os.ReadDir(location)
	if err != nil {
		return nil, fmt.Errorf("reading find-links directory: %w", err)
	}

	var out []req.Candidate
	for _, e := range entries {
		if e.IsDir() || !req.IsArchive(e.Name()) {
			continue
		}
		name, version, ok := req.SplitArchiveName(e.Name())
		if !ok || req.CanonicalName(name) != spec.Key() {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(location, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, req.Candidate{Name: name, Version: version, URL: abs, Filename: e.Name()})
	}
	return out, nil
}

func (f *Finder) lookupIndex(ctx context.Context, indexURL string, spec *req.Spec) ([]req.Candidate, error) {
	pageURL := fmt.Sprintf("%s/%s/", indexURL, url.PathEscape(spec.Key()))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", simpleJSON)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index error: HTTP %d", resp.StatusCode)
	}

	var page ProjectPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("parsing project page: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	var out []req.Candidate
	for _, file := range page.Files {
		if bool(file.Yanked) || !req.IsArchive(file.Filename) {
			continue
		}
		name, version, ok := req.SplitArchiveName(file.Filename)
		if !ok || req.CanonicalName(name) != spec.Key() {
			continue
		}
		ref, err := url.Parse(file.URL)
		if err != nil {
			continue
		}
		out = append(out, req.Candidate{
			Name:     name,
			Version:  version,
			URL:      base.ResolveReference(ref).String(),
			Filename: file.Filename,
		})
	}
	return out, nil
}

func pickBest(candidates []req.Candidate, constraint string) *req.Candidate {
	var best, bestPre *req.Candidate
	for i := range candidates {
		c := &candidates[i]
		if !req.Satisfies(c.Version, constraint) {
			continue
		}
		if req.IsPrerelease(c.Version) {
			if bestPre == nil || req.CompareVersions(c.Version, bestPre.Version) > 0 {
				bestPre = c
			}
			continue
		}
		if best == nil || req.CompareVersions(c.Version, best.Version) > 0 {
			best = c
		}
	}
	if best != nil {
		return best
	}
	return bestPre
}
