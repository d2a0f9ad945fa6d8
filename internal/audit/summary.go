package audit

import (
	"sort"
	"time"
)

// Summary aggregates a set of entries.
type Summary struct {
	Total    int            `json:"total"`
	ByEvent  map[string]int `json:"by_event"`
	ByStatus map[string]int `json:"by_status"`
	ByCaller map[string]int `json:"by_caller"`
	First    time.Time      `json:"first,omitempty"`
	Last     time.Time      `json:"last,omitempty"`
}

// Summarize counts entries by event type, status and caller.
func Summarize(entries []Entry) Summary {
	s := Summary{
		ByEvent:  make(map[string]int),
		ByStatus: make(map[string]int),
		ByCaller: make(map[string]int),
	}
	for _, e := range entries {
		s.Total++
		s.ByEvent[e.EventType]++
		if e.Status != "" {
			s.ByStatus[e.Status]++
		}
		if c := e.Caller(); c != "" {
			s.ByCaller[c]++
		}
		t := e.Time()
		if t.IsZero() {
			continue
		}
		if s.First.IsZero() || t.Before(s.First) {
			s.First = t
		}
		if t.After(s.Last) {
			s.Last = t
		}
	}
	return s
}

// Count is a key with its tally.
type Count struct {
	Key   string
	Count int
}

// Sorted returns the tallies of m ordered by count descending, then key.
func Sorted(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
