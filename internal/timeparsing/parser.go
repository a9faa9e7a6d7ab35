// Package timeparsing turns operator input into a calendar day.
//
// Layers are tried in order:
//  1. Empty or "today"
//  2. Date-only or timestamp (2024-06-12, 2024-06-12T15:00:00Z)
//  3. Compact offset (+2d, -1w, 3m, 1y)
//  4. Natural language (tomorrow, next monday)
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"bidline/internal/followup"
)

// compactOffsetRe matches [+-]?(\d+)([dwmy]).
var compactOffsetRe = regexp.MustCompile(`^([+-]?)(\d+)([dwmy])$`)

var nlp = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseDay resolves s relative to today.
func ParseDay(s string, today followup.Date) (followup.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "today") {
		return today, nil
	}
	if d, ok := followup.ParseDate(s); ok {
		return d, nil
	}
	if IsCompactOffset(s) {
		return ParseCompactOffset(s, today)
	}
	return ParseNaturalLanguage(s, today)
}

// ParseCompactOffset applies a compact offset such as "+2d" or "-1w" to today.
// An unsigned amount counts forward.
func ParseCompactOffset(s string, today followup.Date) (followup.Date, error) {
	m := compactOffsetRe.FindStringSubmatch(s)
	if m == nil {
		return followup.Date{}, fmt.Errorf("not a compact offset: %q", s)
	}
	amount, err := strconv.Atoi(m[2])
	if err != nil {
		return followup.Date{}, fmt.Errorf("invalid offset amount: %q", m[2])
	}
	if m[1] == "-" {
		amount = -amount
	}
	base := today.Time(time.UTC)
	switch m[3] {
	case "d":
		base = base.AddDate(0, 0, amount)
	case "w":
		base = base.AddDate(0, 0, amount*7)
	case "m":
		base = base.AddDate(0, amount, 0)
	case "y":
		base = base.AddDate(amount, 0, 0)
	}
	return followup.DateOf(base), nil
}

// IsCompactOffset reports whether s matches the compact offset syntax.
func IsCompactOffset(s string) bool {
	return compactOffsetRe.MatchString(s)
}

// ParseNaturalLanguage resolves phrases like "tomorrow" or "next friday".
// The reference point is noon of today so hour-level rules cannot roll the day.
func ParseNaturalLanguage(s string, today followup.Date) (followup.Date, error) {
	base := today.Time(time.UTC).Add(12 * time.Hour)
	r, err := nlp.Parse(s, base)
	if err != nil {
		return followup.Date{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if r == nil {
		return followup.Date{}, fmt.Errorf("unrecognized date %q", s)
	}
	return followup.DateOf(r.Time), nil
}
