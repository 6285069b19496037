package calendar

import (
	"fmt"
	"time"

	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// Date is a calendar date encoded as yyyymmdd. The zero value means "unset".
type Date int

// New builds a date from its parts, rejecting impossible combinations
func New(year int, month time.Month, day int) (Date, error) {
	if year < 1 || year > 9999 {
		return 0, errors.InvalidInputf(errors.CodeInvalidDate, "year %d out of range", year)
	}
	if month < time.January || month > time.December {
		return 0, errors.InvalidInputf(errors.CodeInvalidDate, "month %d out of range", int(month))
	}
	if day < 1 || day > LastDayOfMonth(month, year) {
		return 0, errors.InvalidInputf(errors.CodeInvalidDate, "day %d out of range for %04d-%02d", day, year, int(month))
	}
	return Date(year*10000 + int(month)*100 + day), nil
}

// MustNew is New for literals known to be valid
func MustNew(year int, month time.Month, day int) Date {
	d, err := New(year, month, day)
	if err != nil {
		panic(err)
	}
	return d
}

// Parse validates a yyyymmdd integer
func Parse(yyyymmdd int) (Date, error) {
	if yyyymmdd <= 0 {
		return 0, errors.InvalidInputf(errors.CodeInvalidDate, "date %d is not yyyymmdd", yyyymmdd)
	}
	return New(yyyymmdd/10000, time.Month(yyyymmdd/100%100), yyyymmdd%100)
}

// FromTime truncates t to its UTC calendar date
func FromTime(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date(y*10000 + int(m)*100 + d)
}

// Year returns the year
func (d Date) Year() int { return int(d) / 10000 }

// Month returns the month
func (d Date) Month() time.Month { return time.Month(int(d) / 100 % 100) }

// Day returns the day of month
func (d Date) Day() int { return int(d) % 100 }

// Int returns the yyyymmdd encoding
func (d Date) Int() int { return int(d) }

// IsZero reports whether the date is unset
func (d Date) IsZero() bool { return d == 0 }

// Time returns midnight UTC of the date
func (d Date) Time() time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// Weekday returns the day of the week
func (d Date) Weekday() time.Weekday { return d.Time().Weekday() }

// Before reports whether d is strictly earlier than o
func (d Date) Before(o Date) bool { return d < o }

// After reports whether d is strictly later than o
func (d Date) After(o Date) bool { return d > o }

// AddDays adds calendar days, normalizing across months and years
func (d Date) AddDays(n int) Date {
	return FromTime(d.Time().AddDate(0, 0, n))
}

// DaysUntil returns the actual number of days from d to o
func (d Date) DaysUntil(o Date) int {
	return int(o.Time().Sub(d.Time()).Hours() / 24)
}

// IsEndOfMonth reports whether d is the last day of its month
func (d Date) IsEndOfMonth() bool {
	return d.Day() == LastDayOfMonth(d.Month(), d.Year())
}

// AddMonths moves d by n months. The result lands on day (or the last day
// of the month when day exceeds it); day <= 0 pins to end of month.
func (d Date) AddMonths(n int, day int) Date {
	total := d.Year()*12 + int(d.Month()) - 1 + n
	year, month := total/12, time.Month(total%12+1)
	last := LastDayOfMonth(month, year)
	if day <= 0 || day > last {
		day = last
	}
	return Date(year*10000 + int(month)*100 + day)
}

// String formats the date as yyyy-mm-dd
func (d Date) String() string {
	if d.IsZero() {
		return "unset"
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year(), int(d.Month()), d.Day())
}

// Min returns the earlier of two dates
func Min(a, b Date) Date {
	if a < b {
		return a
	}
	return b
}

// Max returns the later of two dates
func Max(a, b Date) Date {
	if a > b {
		return a
	}
	return b
}

// IsLeapYear applies the Gregorian rule
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// LastDayOfMonth returns the number of days in the month
func LastDayOfMonth(month time.Month, year int) int {
	switch month {
	case time.February:
		if IsLeapYear(year) {
			return 29
		}
		return 28
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}
