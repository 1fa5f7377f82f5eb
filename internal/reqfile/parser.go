package reqfile

import (
	"bufio"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/frederic-klein/yapi/internal/req"
)

// IndexSink receives index options found inside requirement files.
type IndexSink interface {
	SetIndexURL(url string)
	AddIndexURL(url string)
	AddFindLinks(location string)
	ClearIndexURLs()
}

// Parser parses requirement files.
type Parser struct {
	// DefaultVCS is applied to editable lines without a "vcs+" prefix.
	DefaultVCS string
	// NoIndex makes index URL lines no-ops.
	NoIndex bool
}

// NewParser creates a new requirement-file parser.
func NewParser(defaultVCS string, noIndex bool) *Parser {
	return &Parser{DefaultVCS: defaultVCS, NoIndex: noIndex}
}

var (
	commentRe = regexp.MustCompile(`(^|\s+)#.*$`)
	optionRe  = regexp.MustCompile(`^(-[a-zA-Z]|--[a-z-]+)(?:\s*=\s*|\s+)?(.*)$`)
)

// Parse returns a lazy sequence of the requirements in path, in file order.
// Nested "-r" files are expanded in place. Iteration stops at the first
// error, which is yielded with a nil spec.
func (p *Parser) Parse(path string, sink IndexSink) iter.Seq2[*req.Spec, error] {
	return func(yield func(*req.Spec, error) bool) {
		p.parseFile(path, sink, map[string]bool{}, yield)
	}
}

func (p *Parser) parseFile(path string, sink IndexSink, open map[string]bool, yield func(*req.Spec, error) bool) bool {
	fail := func(err error) bool {
		yield(nil, err)
		return false
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fail(fmt.Errorf("resolving requirements file %s: %w", path, err))
	}
	if open[abs] {
		return fail(fmt.Errorf("requirements file %s includes itself", path))
	}
	open[abs] = true
	defer delete(open, abs)

	file, err := os.Open(path)
	if err != nil {
		return fail(fmt.Errorf("opening requirements file: %w", err))
	}
	defer file.Close()

	lineNo := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(commentRe.ReplaceAllString(scanner.Text(), ""))
		if line == "" {
			continue
		}
		comesFrom := fmt.Sprintf("-r %s (line %d)", path, lineNo)

		if !strings.HasPrefix(line, "-") {
			spec, err := req.ParseLine(line, comesFrom)
			if err != nil {
				return fail(fmt.Errorf("%s: %w", comesFrom, err))
			}
			spec.Kind = req.KindFile
			if !yield(spec, nil) {
				return false
			}
			continue
		}

		m := optionRe.FindStringSubmatch(line)
		if m == nil {
			return fail(fmt.Errorf("%s: invalid option %q", comesFrom, line))
		}
		opt, value := m[1], strings.TrimSpace(m[2])

		switch opt {
		case "-r", "--requirement":
			nested := value
			if !filepath.IsAbs(nested) {
				nested = filepath.Join(filepath.Dir(path), nested)
			}
			if !p.parseFile(nested, sink, open, yield) {
				return false
			}
		case "-e", "--editable":
			spec, err := req.ParseEditable(value, p.DefaultVCS)
			if err != nil {
				return fail(fmt.Errorf("%s: %w", comesFrom, err))
			}
			spec.ComesFrom = comesFrom
			if !yield(spec, nil) {
				return false
			}
		case "-i", "--index-url":
			if !p.NoIndex && sink != nil {
				sink.SetIndexURL(value)
			}
		case "--extra-index-url":
			if !p.NoIndex && sink != nil {
				sink.AddIndexURL(value)
			}
		case "-f", "--find-links":
			if sink != nil {
				sink.AddFindLinks(relativeTo(path, value))
			}
		case "--no-index":
			p.NoIndex = true
			if sink != nil {
				sink.ClearIndexURLs()
			}
		default:
			return fail(fmt.Errorf("%s: unsupported option %s", comesFrom, opt))
		}
	}

	if err := scanner.Err(); err != nil {
		return fail(fmt.Errorf("reading requirements file: %w", err))
	}
	return true
}

// relativeTo resolves a local find-links directory against the requirements
// file that names it. URLs are returned unchanged.
func relativeTo(path, location string) string {
	if strings.Contains(location, "://") || filepath.IsAbs(location) {
		return location
	}
	return filepath.Join(filepath.Dir(path), location)
}
