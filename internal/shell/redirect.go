package shell

import "strings"

// Redirection is an output redirection found in a command string.
type Redirection struct {
	Op     string
	Target string
	Append bool
}

// Redirections returns every file an output redirection or tee writes to,
// in order of appearance. File-descriptor duplications such as 2>&1 are
// not files and are skipped.
func Redirections(cmd string) []Redirection {
	var out []Redirection
	for _, seg := range Split(cmd) {
		out = append(out, scanRedirections(seg)...)
		if CommandName(seg) == "tee" {
			appendMode := false
			for _, a := range Args(seg) {
				if strings.HasPrefix(a, "-") {
					if a == "-a" || a == "--append" {
						appendMode = true
					}
					continue
				}
				out = append(out, Redirection{Op: "tee", Target: a, Append: appendMode})
			}
		}
	}
	return out
}

// IsDiscard reports whether target is a null device.
func IsDiscard(target string) bool {
	switch strings.ToLower(target) {
	case "/dev/null", "nul", "nul:", "\\\\.\\nul":
		return true
	}
	return false
}

func scanRedirections(seg string) []Redirection {
	var out []Redirection
	rs := []rune(seg)
	inSingle, inDouble := false, false
	for i := 0; i < len(rs); i++ {
		ch := rs[i]
		switch {
		case ch == '\\' && !inSingle:
			i++
			continue
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
			continue
		case ch == '"' && !inSingle:
			inDouble = !inDouble
			continue
		}
		if inSingle || inDouble || ch != '>' {
			continue
		}

		op := ">"
		if i > 0 && (rs[i-1] == '&' || rs[i-1] == '1' || rs[i-1] == '2') && (i == 1 || isSpace(rs[i-2])) {
			op = string(rs[i-1]) + op
		}
		j := i + 1
		appendMode := false
		if j < len(rs) && rs[j] == '>' {
			appendMode = true
			op += ">"
			j++
		}
		if j < len(rs) && (rs[j] == '&' || rs[j] == '(') {
			i = j
			continue
		}
		if j < len(rs) && rs[j] == '|' {
			op += "|"
			j++
		}
		for j < len(rs) && isSpace(rs[j]) {
			j++
		}
		target, end := readWord(rs, j)
		if target != "" {
			out = append(out, Redirection{Op: op, Target: target, Append: appendMode})
		}
		i = end - 1
	}
	return out
}

// readWord reads one shell word starting at i and returns it unquoted along
// with the index just past it.
func readWord(rs []rune, i int) (string, int) {
	var b strings.Builder
	inSingle, inDouble := false, false
	for ; i < len(rs); i++ {
		ch := rs[i]
		switch {
		case ch == '\\' && !inSingle && i+1 < len(rs):
			b.WriteRune(rs[i+1])
			i++
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
		case ch == '"' && !inSingle:
			inDouble = !inDouble
		case !inSingle && !inDouble && (isSpace(ch) || strings.ContainsRune(";|&<>()", ch)):
			return b.String(), i
		default:
			b.WriteRune(ch)
		}
	}
	return b.String(), i
}
