// Package pathutil shortens filesystem paths before they leave the process.
package pathutil

import (
	"path/filepath"
)

// RedactPath reduces a full path to .../<parent>/<basename>.
// For example, "/home/user/experiments/pdpsim.db" becomes ".../experiments/pdpsim.db".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	if !filepath.IsAbs(cleaned) {
		return filepath.ToSlash(cleaned)
	}
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	parent := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}
