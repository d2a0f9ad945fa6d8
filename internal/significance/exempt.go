package significance

import (
	"path"
	"path/filepath"
	"strings"
)

// exemptDirs are directory names whose contents are never significant.
var exemptDirs = map[string]string{
	"tests":     "test directory",
	"test":      "test directory",
	"__tests__": "test directory",
	"testdata":  "test directory",
	"docs":      "documentation directory",
	"doc":       "documentation directory",
	"hooks":     "hook directory",
	".github":   "infrastructure directory",
	".claude":   "infrastructure directory",
	".husky":    "hook directory",
}

// exemptExts maps file extensions to the exemption they fall under.
var exemptExts = map[string]string{
	".md":   "documentation file",
	".rst":  "documentation file",
	".txt":  "documentation file",
	".yml":  "configuration file",
	".yaml": "configuration file",
	".toml": "configuration file",
	".json": "configuration file",
	".lock": "lock file",
	".cfg":  "configuration file",
	".ini":  "configuration file",
}

// exemptNames are exact base names that are infrastructure or metadata.
var exemptNames = map[string]string{
	"Makefile":    "build file",
	"Dockerfile":  "build file",
	"go.mod":      "build file",
	"go.sum":      "build file",
	"conftest.py": "test file",
	"LICENSE":     "documentation file",
	"CHANGELOG":   "documentation file",
}

// testNameGlobs match test files by base name.
var testNameGlobs = []string{"test_*", "*_test.*", "*.test.*", "*.spec.*", "*_spec.*"}

// IsExempt reports whether path is a test, documentation or infrastructure
// file, and if so which rule matched.
func (c *Classifier) IsExempt(p string) (bool, string) {
	p = filepath.ToSlash(strings.TrimSpace(p))
	if p == "" {
		return false, ""
	}

	for _, extra := range c.ExtraExempt {
		if matchExtra(extra, p) {
			return true, "configured exemption " + extra
		}
	}

	segments := strings.Split(strings.Trim(p, "/"), "/")
	for _, seg := range segments[:len(segments)-1] {
		if kind, ok := exemptDirs[seg]; ok {
			return true, kind + " " + seg + "/"
		}
	}

	base := segments[len(segments)-1]
	if kind, ok := exemptNames[base]; ok {
		return true, kind + " " + base
	}
	if strings.HasPrefix(base, "LICENSE") {
		return true, "documentation file " + base
	}
	for _, g := range testNameGlobs {
		if ok, _ := path.Match(g, base); ok {
			return true, "test file " + base
		}
	}
	if kind, ok := exemptExts[strings.ToLower(path.Ext(base))]; ok {
		return true, kind + " " + base
	}
	return false, ""
}

// matchExtra matches a configured exemption against the full path, the base
// name, or as a directory prefix when it ends in "/".
func matchExtra(pattern, p string) bool {
	if strings.HasSuffix(pattern, "/") {
		dir := strings.Trim(pattern, "/")
		return strings.HasPrefix(strings.TrimPrefix(p, "/"), dir+"/") || strings.Contains(p, "/"+dir+"/")
	}
	if ok, _ := path.Match(pattern, p); ok {
		return true
	}
	ok, _ := path.Match(pattern, path.Base(p))
	return ok
}
