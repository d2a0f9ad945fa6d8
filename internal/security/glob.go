package security

import (
	"path"
	"strings"
)

// matchGlob matches a slash-separated name against a pattern in which "**"
// spans any number of path segments and every other segment follows
// path.Match.
func matchGlob(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			for len(pat) > 0 && pat[0] == "**" {
				pat = pat[1:]
			}
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pat, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		ok, err := path.Match(pat[0], segs[0])
		if err != nil || !ok {
			return false
		}
		pat, segs = pat[1:], segs[1:]
	}
	return len(segs) == 0
}

// matchTree matches name itself or anything beneath it, so that a pattern
// naming a directory covers its contents.
func matchTree(pattern, name string) bool {
	if matchGlob(pattern, name) {
		return true
	}
	if strings.HasSuffix(pattern, "/**") {
		return false
	}
	return matchGlob(strings.TrimSuffix(pattern, "/")+"/**", name)
}

// specificity ranks patterns: more literal segments first, then longer.
func specificity(pattern string) (int, int) {
	literal := 0
	for _, seg := range strings.Split(pattern, "/") {
		if seg != "" && !strings.ContainsAny(seg, "*?[") {
			literal++
		}
	}
	return literal, len(pattern)
}

func moreSpecific(a, b string) bool {
	la, na := specificity(a)
	lb, nb := specificity(b)
	if la != lb {
		return la > lb
	}
	if na != nb {
		return na > nb
	}
	return a < b
}

func checkGlob(pattern string) error {
	for _, seg := range strings.Split(pattern, "/") {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return err
		}
	}
	return nil
}
