package req

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	versionRe = regexp.MustCompile(`^v?(\d+(?:\.\d+)*)(?:[-_.]?(a|alpha|b|beta|c|rc|pre|preview)[-_.]?(\d*))?(?:[-_.]?(post|rev|r)[-_.]?(\d*))?(?:[-_.]?(dev)[-_.]?(\d*))?(?:\+.*)?$`)
	operators = []string{"~=", "==", "!=", ">=", "<=", ">", "<"}
)

// phase orders the suffix kinds of a version: 1.0.dev0 < 1.0a1 < 1.0 < 1.0.post1.
const (
	phaseDev = iota
	phasePre
	phaseFinal
	phasePost
)

type version struct {
	release []int
	phase   int
	pre     int // pre-release letter rank: a=0, b=1, rc=2
	num     int
}

func parseVersion(v string) (version, bool) {
	m := versionRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(v)))
	if m == nil {
		return version{}, false
	}
	parts := strings.Split(m[1], ".")
	out := version{release: make([]int, len(parts)), phase: phaseFinal}
	for i, p := range parts {
		out.release[i], _ = strconv.Atoi(p)
	}
	switch {
	case m[6] == "dev":
		out.phase = phaseDev
		out.num, _ = strconv.Atoi(m[7])
	case m[2] != "":
		out.phase = phasePre
		switch m[2] {
		case "a", "alpha":
			out.pre = 0
		case "b", "beta":
			out.pre = 1
		default:
			out.pre = 2
		}
		out.num, _ = strconv.Atoi(m[3])
	case m[4] != "":
		out.phase = phasePost
		out.num, _ = strconv.Atoi(m[5])
	}
	return out, true
}

// CompareVersions returns -1, 0 or 1. Unparseable versions sort before all
// parseable ones and compare lexically among themselves.
func CompareVersions(a, b string) int {
	va, okA := parseVersion(a)
	vb, okB := parseVersion(b)
	switch {
	case !okA && !okB:
		return strings.Compare(a, b)
	case !okA:
		return -1
	case !okB:
		return 1
	}

	if c := compareRelease(va.release, vb.release); c != 0 {
		return c
	}
	if c := compareInt(va.phase, vb.phase); c != 0 {
		return c
	}
	if va.phase == phasePre {
		if c := compareInt(va.pre, vb.pre); c != 0 {
			return c
		}
	}
	return compareInt(va.num, vb.num)
}

func compareRelease(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if c := compareInt(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// IsPrerelease reports whether v is a dev or pre-release version.
func IsPrerelease(v string) bool {
	pv, ok := parseVersion(v)
	return ok && (pv.phase == phaseDev || pv.phase == phasePre)
}

// Satisfies reports whether version have meets every comma-separated clause
// of constraint. An empty constraint matches anything.
func Satisfies(have, constraint string) bool {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return true
	}
	for _, c := range strings.Split(constraint, ",") {
		if !satisfiesOne(have, strings.TrimSpace(c)) {
			return false
		}
	}
	return true
}

func splitClause(c string) (op, ver string) {
	for _, o := range operators {
		if strings.HasPrefix(c, o) {
			return o, strings.TrimSpace(c[len(o):])
		}
	}
	return "==", c
}

func satisfiesOne(have, clause string) bool {
	if clause == "" {
		return true
	}
	op, want := splitClause(clause)

	if op == "==" && strings.HasSuffix(want, ".*") {
		prefix := strings.TrimSuffix(want, ".*")
		return have == prefix || strings.HasPrefix(have, prefix+".")
	}

	cmp := CompareVersions(have, want)
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case "~=":
		// ~=2.2.1 means >=2.2.1, ==2.2.*
		pv, ok := parseVersion(want)
		if !ok || len(pv.release) < 2 || cmp < 0 {
			return false
		}
		prefix := pv.release[:len(pv.release)-1]
		hv, ok := parseVersion(have)
		if !ok || len(hv.release) < len(prefix) {
			return false
		}
		return compareRelease(hv.release[:len(prefix)], prefix) == 0
	}
	return false
}

func validateConstraint(constraint string) error {
	if constraint == "" {
		return nil
	}
	for _, c := range strings.Split(constraint, ",") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		op, ver := splitClause(c)
		if ver == "" {
			return fmt.Errorf("missing version after %q", op)
		}
		if _, ok := parseVersion(strings.TrimSuffix(ver, ".*")); !ok {
			return fmt.Errorf("invalid version %q", ver)
		}
	}
	return nil
}
