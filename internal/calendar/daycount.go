package calendar

import "time"

// DayCount is a year-fraction convention
type DayCount int

const (
	// Thirty360 is the US 30/360 bond basis
	Thirty360 DayCount = iota + 1
	// ThirtyE360 is the European 30/360 basis; the last day of February counts as the 30th
	ThirtyE360
	// Act360 divides actual days by 360
	Act360
	// Act365 divides actual days by 365
	Act365
	// ActAct splits the span by calendar year and divides by that year's length
	ActAct
)

// Valid reports whether dc is a known convention
func (dc DayCount) Valid() bool {
	return dc >= Thirty360 && dc <= ActAct
}

// String returns the conventional name
func (dc DayCount) String() string {
	switch dc {
	case Thirty360:
		return "30/360"
	case ThirtyE360:
		return "30E/360"
	case Act360:
		return "ACT/360"
	case Act365:
		return "ACT/365"
	case ActAct:
		return "ACT/ACT"
	default:
		return "UNKNOWN"
	}
}

// ParseDayCount maps a conventional name to a DayCount
func ParseDayCount(s string) (DayCount, bool) {
	switch s {
	case "30/360", "30_360", "thirty360":
		return Thirty360, true
	case "30E/360", "30e/360", "30E_360":
		return ThirtyE360, true
	case "ACT/360", "act/360", "ACT_360":
		return Act360, true
	case "ACT/365", "act/365", "ACT_365":
		return Act365, true
	case "ACT/ACT", "act/act", "ACT_ACT":
		return ActAct, true
	}
	return 0, false
}

// Days returns the day count between a and b under dc
func Days(a, b Date, dc DayCount) int {
	switch dc {
	case Thirty360:
		d1, d2 := a.Day(), b.Day()
		if d1 == 31 {
			d1 = 30
		}
		if d2 == 31 && d1 >= 30 {
			d2 = 30
		}
		return days360(a, b, d1, d2)
	case ThirtyE360:
		d1, d2 := a.Day(), b.Day()
		if d1 == 31 || (a.Month() == time.February && a.IsEndOfMonth()) {
			d1 = 30
		}
		if d2 == 31 || (b.Month() == time.February && b.IsEndOfMonth()) {
			d2 = 30
		}
		return days360(a, b, d1, d2)
	default:
		return a.DaysUntil(b)
	}
}

func days360(a, b Date, d1, d2 int) int {
	return 360*(b.Year()-a.Year()) + 30*(int(b.Month())-int(a.Month())) + (d2 - d1)
}

// YearFraction returns the fraction of a year between a and b under dc.
// The result is negative when b precedes a.
func YearFraction(a, b Date, dc DayCount) float64 {
	if b.Before(a) {
		return -YearFraction(b, a, dc)
	}
	switch dc {
	case Thirty360, ThirtyE360, Act360:
		return float64(Days(a, b, dc)) / 360
	case Act365:
		return float64(Days(a, b, dc)) / 365
	case ActAct:
		if a.Year() == b.Year() {
			return float64(a.DaysUntil(b)) / yearLength(a.Year())
		}
		startNext := MustNew(a.Year()+1, time.January, 1)
		endYear := MustNew(b.Year(), time.January, 1)
		frac := float64(a.DaysUntil(startNext)) / yearLength(a.Year())
		frac += float64(b.Year() - a.Year() - 1)
		frac += float64(endYear.DaysUntil(b)) / yearLength(b.Year())
		return frac
	default:
		return float64(Days(a, b, Thirty360)) / 360
	}
}

func yearLength(year int) float64 {
	if IsLeapYear(year) {
		return 366
	}
	return 365
}
