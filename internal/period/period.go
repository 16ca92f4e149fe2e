// Package period converts instants into calendar-aligned period keys
// (YYYY-Wnn, YYYY-MM, YYYY) and back into boundaries, in one fixed timezone.
package period

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"voicestats/internal/models"
)

// ErrInvalidPeriodKey is returned when a key does not match its period type.
var ErrInvalidPeriodKey = errors.New("invalid period key")

// Calculator computes period keys in the organizational timezone.
type Calculator struct {
	loc *time.Location
}

// NewCalculator creates a calculator anchored to loc.
func NewCalculator(loc *time.Location) *Calculator {
	if loc == nil {
		panic("period: nil timezone")
	}
	return &Calculator{loc: loc}
}

// Location returns the timezone all boundaries are computed in.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Key returns the period key containing t.
func (c *Calculator) Key(t time.Time, periodType models.PeriodType) string {
	local := t.In(c.loc)

	switch periodType {
	case models.PeriodWeek:
		year, week := local.ISOWeek()
		return formatWeek(year, week)
	case models.PeriodMonth:
		return fmt.Sprintf("%04d-%02d", local.Year(), int(local.Month()))
	case models.PeriodYear:
		return fmt.Sprintf("%04d", local.Year())
	default:
		panic(fmt.Sprintf("period: unknown period type %q", periodType))
	}
}

// Keys returns the week, month and year keys containing t.
func (c *Calculator) Keys(t time.Time) map[models.PeriodType]string {
	keys := make(map[models.PeriodType]string, len(models.PeriodTypes))
	for _, pt := range models.PeriodTypes {
		keys[pt] = c.Key(t, pt)
	}
	return keys
}

// Bounds returns the half-open interval [start, end) covered by key.
func (c *Calculator) Bounds(periodType models.PeriodType, key string) (time.Time, time.Time, error) {
	year, n, err := ParseKey(periodType, key)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	switch periodType {
	case models.PeriodWeek:
		// January 4th always falls in ISO week 1.
		jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, c.loc)
		offset := (int(jan4.Weekday()) + 6) % 7
		start := jan4.AddDate(0, 0, -offset+(n-1)*7)
		return start, start.AddDate(0, 0, 7), nil
	case models.PeriodMonth:
		start := time.Date(year, time.Month(n), 1, 0, 0, 0, 0, c.loc)
		return start, start.AddDate(0, 1, 0), nil
	default:
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, c.loc)
		return start, start.AddDate(1, 0, 0), nil
	}
}

// PreviousKey returns the key immediately before key, wrapping year boundaries.
func PreviousKey(periodType models.PeriodType, key string) (string, error) {
	year, n, err := ParseKey(periodType, key)
	if err != nil {
		return "", err
	}

	switch periodType {
	case models.PeriodWeek:
		if n > 1 {
			return formatWeek(year, n-1), nil
		}
		return formatWeek(year-1, WeeksInYear(year-1)), nil
	case models.PeriodMonth:
		if n > 1 {
			return fmt.Sprintf("%04d-%02d", year, n-1), nil
		}
		return fmt.Sprintf("%04d-12", year-1), nil
	default:
		return fmt.Sprintf("%04d", year-1), nil
	}
}

// NextKey returns the key immediately after key.
func NextKey(periodType models.PeriodType, key string) (string, error) {
	year, n, err := ParseKey(periodType, key)
	if err != nil {
		return "", err
	}

	switch periodType {
	case models.PeriodWeek:
		if n < WeeksInYear(year) {
			return formatWeek(year, n+1), nil
		}
		return formatWeek(year+1, 1), nil
	case models.PeriodMonth:
		if n < 12 {
			return fmt.Sprintf("%04d-%02d", year, n+1), nil
		}
		return fmt.Sprintf("%04d-01", year+1), nil
	default:
		return fmt.Sprintf("%04d", year+1), nil
	}
}

// WeeksInYear returns 52 or 53, the number of ISO weeks in year.
// December 28th always falls in the last ISO week of its year.
func WeeksInYear(year int) int {
	_, week := time.Date(year, time.December, 28, 12, 0, 0, 0, time.UTC).ISOWeek()
	return week
}

// ParseKey splits key into its year and week/month number (0 for year keys).
func ParseKey(periodType models.PeriodType, key string) (int, int, error) {
	switch periodType {
	case models.PeriodWeek:
		if len(key) != 8 || key[4] != '-' || key[5] != 'W' {
			return 0, 0, fmt.Errorf("%w: %q is not YYYY-Wnn", ErrInvalidPeriodKey, key)
		}
		year, err := parseYear(key[:4])
		if err != nil {
			return 0, 0, err
		}
		week, err := strconv.Atoi(key[6:])
		if err != nil || week < 1 || week > WeeksInYear(year) {
			return 0, 0, fmt.Errorf("%w: week out of range in %q", ErrInvalidPeriodKey, key)
		}
		return year, week, nil
	case models.PeriodMonth:
		if len(key) != 7 || key[4] != '-' {
			return 0, 0, fmt.Errorf("%w: %q is not YYYY-MM", ErrInvalidPeriodKey, key)
		}
		year, err := parseYear(key[:4])
		if err != nil {
			return 0, 0, err
		}
		month, err := strconv.Atoi(key[5:])
		if err != nil || month < 1 || month > 12 {
			return 0, 0, fmt.Errorf("%w: month out of range in %q", ErrInvalidPeriodKey, key)
		}
		return year, month, nil
	case models.PeriodYear:
		if len(key) != 4 {
			return 0, 0, fmt.Errorf("%w: %q is not YYYY", ErrInvalidPeriodKey, key)
		}
		year, err := parseYear(key)
		return year, 0, err
	default:
		panic(fmt.Sprintf("period: unknown period type %q", periodType))
	}
}

// ForSpan infers the aggregate granularity for a query window.
func ForSpan(span time.Duration) models.PeriodType {
	switch {
	case span <= 7*24*time.Hour:
		return models.PeriodWeek
	case span <= 31*24*time.Hour:
		return models.PeriodMonth
	default:
		return models.PeriodYear
	}
}

func parseYear(s string) (int, error) {
	year, err := strconv.Atoi(s)
	if err != nil || year < 1 {
		return 0, fmt.Errorf("%w: bad year %q", ErrInvalidPeriodKey, s)
	}
	return year, nil
}

func formatWeek(year, week int) string {
	return fmt.Sprintf("%04d-W%02d", year, week)
}
