package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DayRule is the business-hours window of one weekday.
type DayRule struct {
	Active bool   `json:"active"`
	Start  string `json:"start"  validate:"omitempty,len=5"`
	End    string `json:"end"    validate:"omitempty,len=5"`
}

// Schedule is a named business-hours table keyed by weekday label.
type Schedule struct {
	ID       string             `json:"id"`
	TenantID string             `json:"tenant_id"`
	Name     string             `json:"name"      validate:"required"`
	Timezone string             `json:"timezone,omitempty"`
	Rules    map[string]DayRule `json:"rules"`
}

var weekdayAliases = map[time.Weekday][]string{
	time.Sunday:    {"sunday", "domingo"},
	time.Monday:    {"monday", "segunda"},
	time.Tuesday:   {"tuesday", "terca", "terça"},
	time.Wednesday: {"wednesday", "quarta"},
	time.Thursday:  {"thursday", "quinta"},
	time.Friday:    {"friday", "sexta"},
	time.Saturday:  {"saturday", "sabado", "sábado"},
}

// RuleFor returns the rule configured for the weekday.
func (s *Schedule) RuleFor(day time.Weekday) (DayRule, bool) {
	for label, rule := range s.Rules {
		normalized := strings.ToLower(strings.TrimSpace(label))
		for _, alias := range weekdayAliases[day] {
			if normalized == alias {
				return rule, true
			}
		}
	}

	return DayRule{}, false
}

// IsOpen evaluates the schedule at the given instant. Only the instant's own
// weekday rule is considered, so an overnight window that began on the
// previous day is not carried over.
func (s *Schedule) IsOpen(at time.Time) bool {
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			at = at.In(loc)
		}
	}

	rule, ok := s.RuleFor(at.Weekday())
	if !ok || !rule.Active {
		return false
	}

	start, err := ParseClock(rule.Start)
	if err != nil {
		return false
	}

	end, err := ParseClock(rule.End)
	if err != nil {
		return false
	}

	current := at.Hour()*60 + at.Minute()

	if start <= end {
		return current >= start && current <= end
	}

	return current >= start || current <= end
}

// ParseClock converts "HH:mm" into minutes since midnight.
func ParseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", value)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}

	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}

	return hours*60 + minutes, nil
}
