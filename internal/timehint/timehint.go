// Package timehint finds a time of day written inside a task title, such as
// "9:00 洗濯", "十時半 会議" or "１５時４５分". The result only orders lists.
package timehint

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

var (
	colonPattern      = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	hourMinutePattern = regexp.MustCompile(`(\d{1,2})時(\d{1,2})分`)
	hourPattern       = regexp.MustCompile(`(\d{1,2})時`)
	kanjiPattern      = regexp.MustCompile(`([一二三四五六七八九十]+)時(?:(半)|(\d{1,2})分)?`)
	wideBlockPattern  = regexp.MustCompile(`[０-９]{4}`)
	wideHourMinute    = regexp.MustCompile(`([０-９]{1,2})時([０-９]{1,2})分`)
)

var kanjiHours = map[string]int{
	"一": 1, "二": 2, "三": 3, "四": 4, "五": 5, "六": 6, "七": 7, "八": 8, "九": 9, "十": 10,
	"十一": 11, "十二": 12, "十三": 13, "十四": 14, "十五": 15, "十六": 16, "十七": 17, "十八": 18, "十九": 19,
	"二十": 20, "二十一": 21, "二十二": 22, "二十三": 23,
}

type matcher func(title, narrowed string) (int, bool)

// Patterns are tried in order; the first valid one wins.
var matchers = []matcher{
	matchColon,
	matchHourMinute,
	matchHour,
	matchKanji,
	matchWideBlock,
	matchWideHourMinute,
}

// Extract returns the hinted time as minutes since midnight.
func Extract(title string) (int, bool) {
	narrowed := narrowDigits(title)
	for _, m := range matchers {
		if minutes, ok := m(title, narrowed); ok {
			return minutes, true
		}
	}
	return 0, false
}

// Has reports whether title carries a time hint.
func Has(title string) bool {
	_, ok := Extract(title)
	return ok
}

func matchColon(_, s string) (int, bool) {
	m := colonPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	return clock(atoi(m[1]), atoi(m[2]))
}

func matchHourMinute(_, s string) (int, bool) {
	m := hourMinutePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	return clock(atoi(m[1]), atoi(m[2]))
}

// matchHour accepts "9時" only when no digit follows the hour marker.
func matchHour(_, s string) (int, bool) {
	for _, loc := range hourPattern.FindAllStringSubmatchIndex(s, -1) {
		if next := s[loc[1]:]; next != "" && next[0] >= '0' && next[0] <= '9' {
			continue
		}
		return clock(atoi(s[loc[2]:loc[3]]), 0)
	}
	return 0, false
}

func matchKanji(_, s string) (int, bool) {
	m := kanjiPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	hour, ok := kanjiHours[m[1]]
	if !ok {
		return 0, false
	}
	minute := 0
	switch {
	case m[2] != "":
		minute = 30
	case m[3] != "":
		minute = atoi(m[3])
	}
	return clock(hour, minute)
}

// matchWideBlock reads four full-width digits as HHMM.
func matchWideBlock(title, _ string) (int, bool) {
	block := wideBlockPattern.FindString(title)
	if block == "" {
		return 0, false
	}
	digits := narrowDigits(block)
	return clock(atoi(digits[:2]), atoi(digits[2:4]))
}

func matchWideHourMinute(title, _ string) (int, bool) {
	m := wideHourMinute.FindStringSubmatch(title)
	if m == nil {
		return 0, false
	}
	return clock(atoi(narrowDigits(m[1])), atoi(narrowDigits(m[2])))
}

func clock(hour, minute int) (int, bool) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

// narrowDigits folds full-width digits to ASCII and leaves every other rune alone.
func narrowDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x80 || !unicode.IsDigit(r) {
			return r
		}
		p := width.LookupRune(r)
		if p.Kind() != width.EastAsianFullwidth {
			return r
		}
		return p.Narrow()
	}, s)
}
