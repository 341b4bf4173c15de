// Package holiday is a read-only lookup of Japanese public and bank holidays.
// The table is generated once per process for the current year and the
// twenty years after it.
package holiday

import (
	"sync"
	"time"

	"cloud.google.com/go/civil"
)

type Type string

const (
	TypeNational Type = "national"
	TypeBank     Type = "bank"
)

type Holiday struct {
	Date civil.Date `json:"date"`
	Name string     `json:"name"`
	Type Type       `json:"type"`
}

const span = 20

var springEquinox = map[int]int{
	2026: 20, 2027: 21, 2028: 20, 2029: 20, 2030: 20,
	2031: 21, 2032: 20, 2033: 20, 2034: 20, 2035: 21,
	2036: 20, 2037: 20, 2038: 20, 2039: 21, 2040: 20,
	2041: 20, 2042: 20, 2043: 21, 2044: 20, 2045: 20, 2046: 20,
}

var autumnEquinox = map[int]int{
	2026: 23, 2027: 23, 2028: 22, 2029: 23, 2030: 23,
	2031: 23, 2032: 22, 2033: 23, 2034: 23, 2035: 23,
	2036: 22, 2037: 23, 2038: 23, 2039: 23, 2040: 22,
	2041: 23, 2042: 23, 2043: 23, 2044: 22, 2045: 23, 2046: 23,
}

var (
	once  sync.Once
	table map[civil.Date]Holiday
)

func defaultTable() map[civil.Date]Holiday {
	once.Do(func() {
		year := time.Now().Year()
		table = build(year, year+span)
	})
	return table
}

// Lookup returns the holiday falling on d.
func Lookup(d civil.Date) (Holiday, bool) {
	h, ok := defaultTable()[d]
	return h, ok
}

func Is(d civil.Date) bool {
	_, ok := Lookup(d)
	return ok
}

func build(from, to int) map[civil.Date]Holiday {
	out := make(map[civil.Date]Holiday)
	add := func(year int, month time.Month, day int, name string, typ Type) {
		d := civil.Date{Year: year, Month: month, Day: day}
		out[d] = Holiday{Date: d, Name: name, Type: typ}
	}

	for year := from; year <= to; year++ {
		add(year, time.January, 1, "元日", TypeNational)
		add(year, time.January, 2, "銀行休業日", TypeBank)
		add(year, time.January, 3, "銀行休業日", TypeBank)
		add(year, time.February, 11, "建国記念の日", TypeNational)
		add(year, time.February, 23, "天皇誕生日", TypeNational)
		add(year, time.April, 29, "昭和の日", TypeNational)
		add(year, time.May, 3, "憲法記念日", TypeNational)
		add(year, time.May, 4, "みどりの日", TypeNational)
		add(year, time.May, 5, "こどもの日", TypeNational)
		add(year, time.August, 11, "山の日", TypeNational)
		add(year, time.November, 3, "文化の日", TypeNational)
		add(year, time.November, 23, "勤労感謝の日", TypeNational)
		add(year, time.December, 31, "銀行休業日", TypeBank)

		add(year, time.January, nthMonday(year, time.January, 2), "成人の日", TypeNational)
		add(year, time.July, nthMonday(year, time.July, 3), "海の日", TypeNational)
		add(year, time.September, nthMonday(year, time.September, 3), "敬老の日", TypeNational)
		add(year, time.October, nthMonday(year, time.October, 2), "スポーツの日", TypeNational)

		if day, ok := springEquinox[year]; ok {
			add(year, time.March, day, "春分の日", TypeNational)
		}
		if day, ok := autumnEquinox[year]; ok {
			add(year, time.September, day, "秋分の日", TypeNational)
		}
	}
	return out
}

// nthMonday returns the day of month of the n-th Monday.
func nthMonday(year int, month time.Month, n int) int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday()
	untilMonday := (int(time.Monday) - int(first) + 7) % 7
	return 1 + untilMonday + (n-1)*7
}
