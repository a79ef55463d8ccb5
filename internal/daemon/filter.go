package daemon

import (
	"path"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// ChangeFilter reports whether a change to relPath (slash separated,
// relative to the watch root) should be delivered.
type ChangeFilter func(relPath string, isDir bool) bool

// BuildChangeFilter compiles gitignore-style patterns into a ChangeFilter.
// Changes matching any pattern are dropped. Returns nil for no patterns.
func BuildChangeFilter(patterns []string) ChangeFilter {
	var lines []string
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			lines = append(lines, p)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	gi := ignore.CompileIgnoreLines(lines...)

	return func(relPath string, isDir bool) bool {
		checkPath := relPath
		if isDir {
			checkPath = relPath + "/"
		}
		if gi.MatchesPath(checkPath) {
			return false
		}
		// a pattern naming a directory hides everything below it
		for dir := path.Dir(relPath); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if gi.MatchesPath(dir + "/") {
				return false
			}
		}
		return true
	}
}
