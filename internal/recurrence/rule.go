package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var (
	ErrUnknownKind = errors.New("unknown recurrence kind")
	ErrUnknownUnit = errors.New("unknown custom unit")
)

// Kind names a recurrence variant as it is persisted.
type Kind int

const (
	KindUnknown Kind = iota
	KindDaily
	KindWeekly
	KindMonthly
	KindYearly
	KindWeekdays
	KindCustom
)

var kindNames = map[Kind]string{
	KindDaily:    "daily",
	KindWeekly:   "weekly",
	KindMonthly:  "monthly",
	KindYearly:   "yearly",
	KindWeekdays: "weekdays",
	KindCustom:   "custom",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a stored kind name to its Kind.
func ParseKind(raw string) (Kind, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for kind, name := range kindNames {
		if name == value {
			return kind, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

// Unit is the period unit of a custom rule.
type Unit int

const (
	UnitDays Unit = iota
	UnitWeeks
	UnitMonths
	UnitYears
)

func (u Unit) String() string {
	switch u {
	case UnitDays:
		return "days"
	case UnitWeeks:
		return "weeks"
	case UnitMonths:
		return "months"
	case UnitYears:
		return "years"
	default:
		return "unknown"
	}
}

// ParseUnit accepts the stored unit name. An empty value is the legacy days unit.
func ParseUnit(raw string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "days":
		return UnitDays, nil
	case "weeks":
		return UnitWeeks, nil
	case "months":
		return UnitMonths, nil
	case "years":
		return UnitYears, nil
	default:
		return UnitDays, fmt.Errorf("%w: %q", ErrUnknownUnit, raw)
	}
}

// Rule is a recurrence rule. The set of variants is closed: every variant lives
// in this package and implements matches.
type Rule interface {
	Kind() Kind
	matches(due, target civil.Date) bool
}

type Daily struct{}

type Weekly struct{}

// Monthly repeats on the due day of month. Months without that day are skipped.
type Monthly struct{}

type Yearly struct{}

// Weekdays repeats on every weekday contained in Days.
type Weekdays struct {
	Days WeekdaySet
}

// Custom repeats every Count units. Count <= 0 never repeats.
type Custom struct {
	Count int
	Unit  Unit
}

// Unrecognized wraps a stored rule this service cannot interpret.
type Unrecognized struct {
	Name string
}

func (Daily) Kind() Kind        { return KindDaily }
func (Weekly) Kind() Kind       { return KindWeekly }
func (Monthly) Kind() Kind      { return KindMonthly }
func (Yearly) Kind() Kind       { return KindYearly }
func (Weekdays) Kind() Kind     { return KindWeekdays }
func (Custom) Kind() Kind       { return KindCustom }
func (Unrecognized) Kind() Kind { return KindUnknown }

func (Daily) matches(_, _ civil.Date) bool { return true }

func (Weekly) matches(due, target civil.Date) bool {
	return weekday(due) == weekday(target)
}

func (Monthly) matches(due, target civil.Date) bool {
	return due.Day == target.Day
}

func (Yearly) matches(due, target civil.Date) bool {
	return due.Month == target.Month && due.Day == target.Day
}

func (w Weekdays) matches(_, target civil.Date) bool {
	return w.Days.Has(weekday(target))
}

func (c Custom) matches(due, target civil.Date) bool {
	if c.Count <= 0 {
		return false
	}
	switch c.Unit {
	case UnitDays:
		return multipleOf(target.DaysSince(due), c.Count)
	case UnitWeeks:
		return multipleOf(target.DaysSince(due), c.Count*7)
	case UnitMonths:
		if due.Day != target.Day {
			return false
		}
		months := (target.Year-due.Year)*12 + int(target.Month) - int(due.Month)
		return multipleOf(months, c.Count)
	case UnitYears:
		if due.Month != target.Month || due.Day != target.Day {
			return false
		}
		return multipleOf(target.Year-due.Year, c.Count)
	default:
		return false
	}
}

func (Unrecognized) matches(_, _ civil.Date) bool { return false }

func multipleOf(diff, period int) bool {
	return diff >= 0 && diff%period == 0
}

func weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

// WeekdaySet is a bit set of weekdays, bit 0 = Sunday.
type WeekdaySet uint8

// NewWeekdaySet builds a set from weekday indices; values outside 0..6 are ignored.
func NewWeekdaySet(days ...int) WeekdaySet {
	var set WeekdaySet
	for _, d := range days {
		if d < 0 || d > 6 {
			continue
		}
		set |= 1 << uint(d)
	}
	return set
}

func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

func (s WeekdaySet) Empty() bool {
	return s == 0
}

// Days lists the members in ascending order.
func (s WeekdaySet) Days() []int {
	var out []int
	for d := 0; d < 7; d++ {
		if s.Has(time.Weekday(d)) {
			out = append(out, d)
		}
	}
	return out
}

// FromStored builds a Rule from persisted columns. A nil customUnit means days.
func FromStored(kind string, customDays *int, customUnit *string, weekdays []int) Rule {
	k, err := ParseKind(kind)
	if err != nil {
		return Unrecognized{Name: kind}
	}
	switch k {
	case KindDaily:
		return Daily{}
	case KindWeekly:
		return Weekly{}
	case KindMonthly:
		return Monthly{}
	case KindYearly:
		return Yearly{}
	case KindWeekdays:
		return Weekdays{Days: NewWeekdaySet(weekdays...)}
	case KindCustom:
		rule := Custom{}
		if customDays != nil {
			rule.Count = *customDays
		}
		if customUnit != nil {
			unit, err := ParseUnit(*customUnit)
			if err != nil {
				return Unrecognized{Name: kind + ":" + *customUnit}
			}
			rule.Unit = unit
		}
		return rule
	}
	return Unrecognized{Name: kind}
}

// InferLegacyUnit guesses the unit of a custom rule saved before units were
// stored. It is only meant for presenting legacy rows in an editor; evaluation
// of a unit-less rule always uses days.
func InferLegacyUnit(days int) (int, Unit) {
	switch {
	case days <= 0:
		return days, UnitDays
	case days%365 == 0:
		return days / 365, UnitYears
	case days%30 == 0:
		return days / 30, UnitMonths
	case days%7 == 0:
		return days / 7, UnitWeeks
	default:
		return days, UnitDays
	}
}
