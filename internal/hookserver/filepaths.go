package hookserver

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/discode/bridge/internal/common/fileexts"
)

// filePathRe matches an absolute path with a recognized extension, whether
// bare, backtick-quoted, or inside a markdown image/link — loose enough to
// catch all three per §8 property 8.
var filePathRe = regexp.MustCompile(`[` + "`" + `]?(/[^\s` + "`" + `]+\.[A-Za-z0-9]+)[` + "`" + `]?`)

// extractFilePaths returns the deduplicated set of absolute paths appearing
// in t whose extension is recognized and whose realpath lies under
// projectRealpath, in first-occurrence order (§4.3, §8 property 8). A path
// that does not exist on disk is checked lexically.
func extractFilePaths(t, projectRealpath string) []string {
	if projectRealpath == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, m := range filePathRe.FindAllStringSubmatch(t, -1) {
		path := m[1]
		ext := filepath.Ext(path)
		if ext == "" {
			continue
		}
		if !fileexts.Allowed(ext) {
			continue
		}
		if !underRealpath(path, projectRealpath) {
			continue
		}
		if seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}

func underRealpath(path, root string) bool {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		if resolvedRoot, err := filepath.EvalSymlinks(root); err == nil {
			path, root = resolved, resolvedRoot
		}
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

var collapseNewlinesRe = regexp.MustCompile(`\n{3,}`)

// stripFilePaths removes every occurrence of paths (in backticks, markdown
// images, or bare) from t and collapses 3+ consecutive newlines to 2 (§8
// property 8).
func stripFilePaths(t string, paths []string) string {
	for _, p := range paths {
		quoted := regexp.QuoteMeta(p)
		t = regexp.MustCompile("!\\[[^\\]]*\\]\\(`?"+quoted+"`?\\)").ReplaceAllString(t, "")
		t = regexp.MustCompile("`"+quoted+"`").ReplaceAllString(t, "")
		t = strings.ReplaceAll(t, p, "")
	}
	return strings.TrimSpace(collapseNewlinesRe.ReplaceAllString(t, "\n\n"))
}
