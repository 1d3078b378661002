package domain

import (
	"fmt"
	"strings"
	"time"
)

// Priority is ordered: a higher value is more urgent.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityImmediate
)

var priorityNames = map[Priority]string{
	PriorityLow:       "low",
	PriorityNormal:    "normal",
	PriorityHigh:      "high",
	PriorityUrgent:    "urgent",
	PriorityImmediate: "immediate",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Priority) IsValid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority accepts a priority name or its numeric rank (1-5).
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if name == s || fmt.Sprint(int(p)) == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("invalid priority %q (expected low, normal, high, urgent or immediate)", s)
}

const DateLayout = "2006-01-02"

// ParseDate parses a calendar date in YYYY-MM-DD form.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

func ValidDate(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}

// AddDays shifts a YYYY-MM-DD date. Invalid input is returned unchanged.
func AddDays(s string, days int) string {
	d, err := ParseDate(s)
	if err != nil {
		return s
	}
	return d.AddDate(0, 0, days).Format(DateLayout)
}

// DaysBetween returns to - from in whole days.
func DaysBetween(from, to string) int {
	f, err := ParseDate(from)
	if err != nil {
		return 0
	}
	t, err := ParseDate(to)
	if err != nil {
		return 0
	}
	return int(t.Sub(f).Hours() / 24)
}

// DateBefore compares two YYYY-MM-DD dates.
func DateBefore(a, b string) bool {
	return a < b
}
