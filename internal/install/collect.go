package install

import (
	"github.com/frederic-klein/yapi/internal/req"
)

// Sources are the three places requirements come from, in collection order.
type Sources struct {
	Args             []string // positional specifiers
	Editables        []string
	RequirementFiles []string
}

// Collect fills set from positional specifiers, then editables, then
// requirement files, and reports whether anything was added. Requirement
// files are read lazily through parser and may add indexes to finder.
func Collect(plan *Plan, set RequirementSet, finder Finder, parser RequirementFileParser, src Sources) (bool, error) {
	for _, line := range src.Args {
		spec, err := req.ParseLine(line, "")
		if err != nil {
			return false, &UsageError{Msg: "invalid requirement", Err: err}
		}
		set.Add(spec)
	}

	for _, line := range src.Editables {
		spec, err := req.ParseEditable(line, plan.DefaultVCS)
		if err != nil {
			return false, &UsageError{Msg: "invalid editable requirement", Err: err}
		}
		set.Add(spec)
	}

	for _, path := range src.RequirementFiles {
		for spec, err := range parser.Parse(path, finder) {
			if err != nil {
				return false, &UsageError{Msg: "reading requirements", Err: err}
			}
			set.Add(spec)
		}
	}

	return set.HasRequirements(), nil
}
