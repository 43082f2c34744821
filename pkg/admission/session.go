package admission

import "time"

// HourRange is a half-open wall-clock UTC hour window [Start, End).
// Ranges crossing midnight are represented as two segments by the
// policy author (e.g. 22-24 and 0-6).
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether the UTC hour of t falls inside the range.
func (r HourRange) Contains(t time.Time) bool {
	h := t.UTC().Hour()
	return h >= r.Start && h < r.End
}

// SessionAllowed applies the session-window gate: an empty range set
// means no gating; otherwise t must fall inside at least one range.
func SessionAllowed(ranges []HourRange, t time.Time) bool {
	if len(ranges) == 0 {
		return true
	}
	for _, r := range ranges {
		if r.Contains(t) {
			return true
		}
	}
	return false
}

// ParseHourRanges decodes the policy-store representation of session
// windows. Accepted element shapes: [start, end] pairs or
// {"start": h, "end": h} objects; numbers arrive as float64 or
// json.Number-compatible values. Malformed elements are skipped.
func ParseHourRanges(v any) []HourRange {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]HourRange, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case []any:
			if len(t) == 2 {
				s, sok := asInt(t[0])
				e, eok := asInt(t[1])
				if sok && eok {
					out = append(out, HourRange{Start: s, End: e})
				}
			}
		case map[string]any:
			s, sok := asInt(t["start"])
			e, eok := asInt(t["end"])
			if sok && eok {
				out = append(out, HourRange{Start: s, End: e})
			}
		}
	}
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
