package significance

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

// definitionPatterns recognise top-level declarations per language. The
// first capture group is the declared name.
var definitionPatterns = map[string][]*regexp.Regexp{
	"go": {
		regexp.MustCompile(`(?m)^\s*func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)\s*[\[(]`),
		regexp.MustCompile(`(?m)^\s*type\s+([A-Za-z_]\w*)\s+(?:struct|interface)\b`),
	},
	"python": {
		regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`),
		regexp.MustCompile(`(?m)^\s*class\s+([A-Za-z_]\w*)\s*[:(]`),
	},
	"js": {
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)\s*\(`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s+)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*=>`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?interface\s+([A-Za-z_$][\w$]*)`),
	},
	"rust": {
		regexp.MustCompile(`(?m)^\s*(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?(?:unsafe\s+)?fn\s+([A-Za-z_]\w*)`),
		regexp.MustCompile(`(?m)^\s*(?:pub(?:\([^)]*\))?\s+)?(?:struct|enum|trait)\s+([A-Za-z_]\w*)`),
	},
	"jvm": {
		regexp.MustCompile(`(?m)^\s*(?:(?:public|private|protected|internal|static|final|abstract|sealed|data|open)\s+)*(?:class|interface|enum|record|object)\s+([A-Za-z_]\w*)`),
		regexp.MustCompile(`(?m)^\s*(?:(?:public|private|protected|internal|static|final|abstract|override|suspend)\s+)*fun\s+(?:<[^>]*>\s*)?([A-Za-z_]\w*)\s*\(`),
		regexp.MustCompile(`(?m)^\s*(?:public|private|protected|internal)\s+(?:(?:static|final|abstract|async|virtual|override|synchronized)\s+)*[\w<>\[\],.?]+\s+([A-Za-z_]\w*)\s*\([^;]*$`),
	},
	"ruby": {
		regexp.MustCompile(`(?m)^\s*def\s+(?:self\.)?([A-Za-z_]\w*[?!]?)`),
		regexp.MustCompile(`(?m)^\s*(?:class|module)\s+([A-Z]\w*)`),
	},
	"shell": {
		regexp.MustCompile(`(?m)^\s*function\s+([A-Za-z_][\w-]*)`),
		regexp.MustCompile(`(?m)^\s*([A-Za-z_][\w-]*)\s*\(\)\s*\{`),
	},
}

var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".pyi":   "python",
	".js":    "js",
	".jsx":   "js",
	".mjs":   "js",
	".cjs":   "js",
	".ts":    "js",
	".tsx":   "js",
	".rs":    "rust",
	".java":  "jvm",
	".kt":    "jvm",
	".kts":   "jvm",
	".cs":    "jvm",
	".scala": "jvm",
	".rb":    "ruby",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
}

// languageOrder fixes iteration order when the extension is unknown.
var languageOrder = []string{"go", "python", "js", "rust", "jvm", "ruby", "shell"}

// definitions returns the sorted set of names declared in src.
func definitions(filePath, src string) map[string]struct{} {
	names := make(map[string]struct{})
	if src == "" {
		return names
	}
	langs := languageOrder
	if lang, ok := languageByExt[strings.ToLower(path.Ext(filePath))]; ok {
		langs = []string{lang}
	}
	for _, lang := range langs {
		for _, re := range definitionPatterns[lang] {
			for _, m := range re.FindAllStringSubmatch(src, -1) {
				if len(m) > 1 && m[1] != "" && !isKeyword(m[1]) {
					names[m[1]] = struct{}{}
				}
			}
		}
	}
	return names
}

// newDefinitions lists names defined in after but not in before.
func newDefinitions(filePath, before, after string) []string {
	old := definitions(filePath, before)
	var added []string
	for name := range definitions(filePath, after) {
		if _, ok := old[name]; !ok {
			added = append(added, name)
		}
	}
	if added == nil {
		return []string{}
	}
	sort.Strings(added)
	return added
}

// control-flow keywords that loose patterns can capture as names.
var keywords = map[string]struct{}{
	"if": {}, "for": {}, "while": {}, "switch": {}, "catch": {}, "return": {},
	"else": {}, "new": {}, "throw": {}, "case": {},
}

func isKeyword(s string) bool {
	_, ok := keywords[s]
	return ok
}
