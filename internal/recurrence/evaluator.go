package recurrence

import "cloud.google.com/go/civil"

// Exclusions suppress occurrences of a recurring task. The zero value excludes nothing.
type Exclusions struct {
	singles map[civil.Date]struct{}
	after   *civil.Date
}

// NewExclusions builds an exclusion overlay. after may be nil.
func NewExclusions(singles []civil.Date, after *civil.Date) Exclusions {
	ex := Exclusions{}
	for _, d := range singles {
		ex.AddSingle(d)
	}
	if after != nil {
		cutoff := *after
		ex.after = &cutoff
	}
	return ex
}

func (e *Exclusions) AddSingle(d civil.Date) {
	if e.singles == nil {
		e.singles = make(map[civil.Date]struct{})
	}
	e.singles[d] = struct{}{}
}

// SetAfter replaces the cutoff; only the latest one applies.
func (e *Exclusions) SetAfter(d civil.Date) {
	e.after = &d
}

func (e Exclusions) After() (civil.Date, bool) {
	if e.after == nil {
		return civil.Date{}, false
	}
	return *e.after, true
}

func (e Exclusions) Len() int {
	n := len(e.singles)
	if e.after != nil {
		n++
	}
	return n
}

// Excludes reports whether d is suppressed.
func (e Exclusions) Excludes(d civil.Date) bool {
	if _, ok := e.singles[d]; ok {
		return true
	}
	return e.after != nil && !d.Before(*e.after)
}

// OccursOn reports whether a task due on due with the given rule (nil for a
// one-off task) has an occurrence on target.
func OccursOn(due civil.Date, rule Rule, ex Exclusions, target civil.Date) bool {
	if target.Before(due) {
		return false
	}
	if target != due {
		if rule == nil || !rule.matches(due, target) {
			return false
		}
	}
	return !ex.Excludes(target)
}

// Expand lists the occurrence dates in [from, to].
func Expand(due civil.Date, rule Rule, ex Exclusions, from, to civil.Date) []civil.Date {
	start := from
	if start.Before(due) {
		start = due
	}
	if rule == nil {
		if !due.Before(start) && !due.After(to) && OccursOn(due, nil, ex, due) {
			return []civil.Date{due}
		}
		return nil
	}
	var out []civil.Date
	for d := start; !d.After(to); d = d.AddDays(1) {
		if OccursOn(due, rule, ex, d) {
			out = append(out, d)
		}
	}
	return out
}
