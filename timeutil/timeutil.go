// Package timeutil converts the 12-hour clock, date and weekday encodings
// stored on easy schedules into values the job scheduler understands.
package timeutil

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrInvalidTime = errors.New("invalid time")
	ErrInvalidDate = errors.New("invalid date")
)

// Date is a calendar day without a time or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// At returns the instant hour24:minute on d in loc.
func (d Date) At(hour24, minute int, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour24, minute, 0, 0, loc)
}

// To24Hour converts a 12-hour clock reading. 12 AM is hour 0 and 12 PM is
// hour 12.
func To24Hour(ampm string, hour12 int) (int, error) {
	if hour12 < 1 || hour12 > 12 {
		return 0, fmt.Errorf("%w: hour %d outside 1-12", ErrInvalidTime, hour12)
	}

	switch strings.ToUpper(strings.TrimSpace(ampm)) {
	case "AM":
		if hour12 == 12 {
			return 0, nil
		}
		return hour12, nil
	case "PM":
		if hour12 == 12 {
			return 12, nil
		}
		return hour12 + 12, nil
	default:
		return 0, fmt.Errorf("%w: meridiem %q is not AM or PM", ErrInvalidTime, ampm)
	}
}

// ValidateMinute reports whether minute is a valid minute of the hour.
func ValidateMinute(minute int) error {
	if minute < 0 || minute > 59 {
		return fmt.Errorf("%w: minute %d outside 0-59", ErrInvalidTime, minute)
	}
	return nil
}

var dateLayouts = []string{"2006-01-02", "01/02/2006"}

// ParseDate parses a date token as sent by the operator UI, either
// YYYY-MM-DD or MM/DD/YYYY.
func ParseDate(token string) (Date, error) {
	token = strings.TrimSpace(token)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, token)
		if err == nil {
			return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
		}
	}
	return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, token)
}

// DaysToDigits encodes a weekday set as ascending digits, Sunday being 0.
// Duplicates collapse and an empty set encodes as "".
func DaysToDigits(days []time.Weekday) (string, error) {
	sorted := slices.Clone(days)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var b strings.Builder
	for _, d := range sorted {
		if d < time.Sunday || d > time.Saturday {
			return "", fmt.Errorf("%w: weekday %d", ErrInvalidTime, d)
		}
		b.WriteByte(byte('0' + d))
	}
	return b.String(), nil
}

// DigitsToDays decodes the output of DaysToDigits. Any character outside
// 0-6 is an error.
func DigitsToDays(digits string) ([]time.Weekday, error) {
	if digits == "" {
		return nil, nil
	}

	days := make([]time.Weekday, 0, len(digits))
	for _, r := range digits {
		if r < '0' || r > '6' {
			return nil, fmt.Errorf("%w: day digit %q", ErrInvalidTime, r)
		}
		days = append(days, time.Weekday(r-'0'))
	}
	slices.Sort(days)
	return slices.Compact(days), nil
}
