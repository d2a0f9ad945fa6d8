// Package significance decides whether a code edit is large or structural
// enough to be routed through a higher-level workflow.
//
// Classification is pure: the same change always yields the same verdict.
package significance

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	// DefaultLineThreshold is the number of net new lines above which a
	// change is significant.
	DefaultLineThreshold = 5
	// DefaultNewFileMinLines is the number of non-blank lines that makes a
	// newly created file significant.
	DefaultNewFileMinLines = 3
)

// Change is a single edit to a file.
type Change struct {
	Path   string
	Before string
	After  string
}

// Verdict is the outcome of classifying a Change.
type Verdict struct {
	Significant bool
	Exempt      bool
	Reason      string
	Metrics     map[string]any
}

// Classifier holds the tunable thresholds. The zero value uses defaults.
type Classifier struct {
	LineThreshold   int
	NewFileMinLines int
	ExtraExempt     []string
}

// New returns a classifier with default thresholds and extra exempt patterns.
func New(extraExempt ...string) *Classifier {
	return &Classifier{
		LineThreshold:   DefaultLineThreshold,
		NewFileMinLines: DefaultNewFileMinLines,
		ExtraExempt:     extraExempt,
	}
}

// Classify computes the significance verdict for ch.
func (c *Classifier) Classify(ch Change) Verdict {
	added, removed := lineDelta(ch.Before, ch.After)
	defs := newDefinitions(ch.Path, ch.Before, ch.After)
	newFile := strings.TrimSpace(ch.Before) == ""

	v := Verdict{
		Metrics: map[string]any{
			"lines_added":     added,
			"lines_removed":   removed,
			"net_lines":       added - removed,
			"new_definitions": defs,
			"new_file":        newFile,
			"exempt":          false,
		},
	}

	if exempt, why := c.IsExempt(ch.Path); exempt {
		v.Exempt = true
		v.Metrics["exempt"] = true
		v.Reason = "exempt path: " + why
		return v
	}

	var reasons []string
	if len(defs) > 0 {
		reasons = append(reasons, "new definitions: "+strings.Join(defs, ", "))
	}
	if net := added - removed; net > c.lineThreshold() {
		reasons = append(reasons, fmt.Sprintf("net +%d lines exceeds threshold of %d", net, c.lineThreshold()))
	}
	if newFile {
		if n := nonBlankLines(ch.After); n >= c.newFileMinLines() {
			reasons = append(reasons, fmt.Sprintf("new file with %d lines", n))
		}
	}

	if len(reasons) == 0 {
		v.Reason = fmt.Sprintf("minor change (+%d/-%d lines)", added, removed)
		return v
	}
	v.Significant = true
	v.Reason = strings.Join(reasons, "; ")
	return v
}

// Classify classifies ch with the default classifier.
func Classify(ch Change) Verdict {
	return New().Classify(ch)
}

func (c *Classifier) lineThreshold() int {
	if c.LineThreshold <= 0 {
		return DefaultLineThreshold
	}
	return c.LineThreshold
}

func (c *Classifier) newFileMinLines() int {
	if c.NewFileMinLines <= 0 {
		return DefaultNewFileMinLines
	}
	return c.NewFileMinLines
}

// lineDelta counts non-blank lines inserted and deleted between two texts.
func lineDelta(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	rOld, rNew, lineArray := dmp.DiffLinesToRunes(before, after)
	diffs := dmp.DiffMainRunes(rOld, rNew, false)

	count := func(text string) int {
		n := 0
		for _, r := range text {
			idx := int(r)
			if idx >= 0 && idx < len(lineArray) && strings.TrimSpace(lineArray[idx]) != "" {
				n++
			}
		}
		return n
	}

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += count(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += count(d.Text)
		}
	}
	return added, removed
}

func nonBlankLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
