// Package shell provides quote-aware parsing of shell command strings:
// compound-command splitting, command-name extraction, output
// redirections and here-documents. It never executes anything.
package shell

import (
	"path/filepath"
	"regexp"
	"strings"
)

// heredocRe matches a here-document operator (not a <<< here-string).
var heredocRe = regexp.MustCompile(`(^|[^<])<<-?\s*['"]?([A-Za-z_][A-Za-z0-9_]*)['"]?`)

// wrappers run the following word as the real command.
var wrappers = map[string]bool{
	"env":     true,
	"nohup":   true,
	"time":    true,
	"command": true,
	"builtin": true,
}

// StripHeredocs removes here-document bodies from cmd. It returns the
// command text without the bodies and the bodies in order of appearance.
func StripHeredocs(cmd string) (string, []string) {
	lines := strings.Split(cmd, "\n")
	kept := make([]string, 0, len(lines))
	var bodies []string
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		kept = append(kept, line)
		for _, m := range heredocRe.FindAllStringSubmatch(line, -1) {
			delim := m[2]
			var body []string
			for i++; i < len(lines); i++ {
				if strings.TrimSpace(lines[i]) == delim {
					break
				}
				body = append(body, lines[i])
			}
			bodies = append(bodies, strings.Join(body, "\n"))
		}
	}
	return strings.Join(kept, "\n"), bodies
}

// Split breaks a compound command into its simple commands on ;, &&, ||,
// |, |&, &, and newlines while respecting quotes. Here-document bodies are
// dropped first.
func Split(cmd string) []string {
	cmd, _ = StripHeredocs(cmd)
	cmd = strings.ReplaceAll(cmd, "\\\n", " ")

	var segments []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			segments = append(segments, s)
		}
		current.Reset()
	}

	inSingle, inDouble := false, false
	rs := []rune(cmd)
	for i := 0; i < len(rs); i++ {
		ch := rs[i]
		if ch == '\\' && !inSingle && i+1 < len(rs) {
			current.WriteRune(ch)
			current.WriteRune(rs[i+1])
			i++
			continue
		}
		if ch == '\'' && !inDouble {
			inSingle = !inSingle
			current.WriteRune(ch)
			continue
		}
		if ch == '"' && !inSingle {
			inDouble = !inDouble
			current.WriteRune(ch)
			continue
		}
		if inSingle || inDouble {
			current.WriteRune(ch)
			continue
		}

		switch ch {
		case ';', '\n':
			flush()
		case '|':
			flush()
			if i+1 < len(rs) && (rs[i+1] == '|' || rs[i+1] == '&') {
				i++
			}
		case '&':
			switch {
			case i+1 < len(rs) && rs[i+1] == '&':
				flush()
				i++
			case i+1 < len(rs) && rs[i+1] == '>':
				current.WriteRune(ch)
			case i > 0 && (rs[i-1] == '>' || rs[i-1] == '<'):
				current.WriteRune(ch)
			default:
				flush()
			}
		default:
			current.WriteRune(ch)
		}
	}
	flush()
	return segments
}

// Fields splits a simple command into words, honoring quotes and removing
// them.
func Fields(segment string) []string {
	var words []string
	var cur strings.Builder
	inWord, inSingle, inDouble := false, false, false
	rs := []rune(segment)
	for i := 0; i < len(rs); i++ {
		ch := rs[i]
		switch {
		case ch == '\\' && !inSingle && i+1 < len(rs):
			cur.WriteRune(rs[i+1])
			inWord = true
			i++
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
			inWord = true
		case ch == '"' && !inSingle:
			inDouble = !inDouble
			inWord = true
		case isSpace(ch) && !inSingle && !inDouble:
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(ch)
			inWord = true
		}
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words
}

// CommandName returns the base name of the program a simple command runs.
// Leading VAR=value assignments, grouping characters and wrappers such as
// env and nohup are skipped; path-qualified binaries are reduced to their
// base name.
func CommandName(segment string) string {
	words := Fields(segment)
	i := 0
	for i < len(words) {
		w := strings.TrimLeft(words[i], "({!")
		switch {
		case w == "":
			i++
		case isAssignment(w):
			i++
		case wrappers[w]:
			i++
			for i < len(words) && strings.HasPrefix(words[i], "-") {
				i++
			}
		default:
			return filepath.Base(w)
		}
	}
	return ""
}

// Args returns the words following the command name.
func Args(segment string) []string {
	name := CommandName(segment)
	if name == "" {
		return nil
	}
	words := Fields(segment)
	for i, w := range words {
		if filepath.Base(strings.TrimLeft(w, "({!")) == name {
			return words[i+1:]
		}
	}
	return nil
}

// HasSubstitution reports whether cmd contains command or process
// substitution outside single quotes.
func HasSubstitution(cmd string) bool {
	inSingle := false
	rs := []rune(cmd)
	for i := 0; i < len(rs); i++ {
		ch := rs[i]
		if ch == '\\' && !inSingle {
			i++
			continue
		}
		if ch == '\'' {
			inSingle = !inSingle
			continue
		}
		if inSingle {
			continue
		}
		if ch == '`' {
			return true
		}
		if i+1 < len(rs) && rs[i+1] == '(' && (ch == '$' || ch == '<' || ch == '>') {
			return true
		}
	}
	return false
}

func isAssignment(w string) bool {
	eq := strings.IndexByte(w, '=')
	if eq <= 0 {
		return false
	}
	for i, r := range w[:eq] {
		if r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
