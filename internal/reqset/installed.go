package reqset

import (
	"os"
	"strings"

	"github.com/frederic-klein/yapi/internal/req"
)

// installedVersion looks for a *.dist-info or *.egg-info entry of name in
// the given site-packages directories and returns its version.
func installedVersion(sitePackages []string, name string) (string, bool) {
	want := req.CanonicalName(name)
	for _, dir := range sitePackages {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			base, ok := strings.CutSuffix(entry.Name(), ".dist-info")
			if !ok {
				if base, ok = strings.CutSuffix(entry.Name(), ".egg-info"); !ok {
					continue
				}
			}
			// name-version[-pyX.Y]
			parts := strings.Split(base, "-")
			if len(parts) < 2 {
				continue
			}
			if req.CanonicalName(parts[0]) == want {
				return parts[1], true
			}
		}
	}
	return "", false
}
