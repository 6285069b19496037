package calendar

import "time"

// NoticeMode controls how a notice period is laid over the calendar
type NoticeMode int

const (
	// ExtendTrailingEdge counts calendar days, then rolls the result
	// forward to the next business day
	ExtendTrailingEdge NoticeMode = iota
	// BusinessDaysOnly counts business days only
	BusinessDaysOnly
)

// Calendar is a holiday set
type Calendar struct {
	holidays                map[Date]struct{}
	WeekendsAreBusinessDays bool
}

// NewCalendar builds a calendar from a holiday list
func NewCalendar(holidays []Date, weekendsAreBusinessDays bool) *Calendar {
	c := &Calendar{
		holidays:                make(map[Date]struct{}, len(holidays)),
		WeekendsAreBusinessDays: weekendsAreBusinessDays,
	}
	for _, h := range holidays {
		c.holidays[h] = struct{}{}
	}
	return c
}

// AddHoliday marks d as a non-business day
func (c *Calendar) AddHoliday(d Date) {
	if c.holidays == nil {
		c.holidays = make(map[Date]struct{})
	}
	c.holidays[d] = struct{}{}
}

// IsBusinessDay reports whether d is neither a holiday nor (unless allowed) a weekend
func (c *Calendar) IsBusinessDay(d Date) bool {
	if c == nil {
		return true
	}
	if _, ok := c.holidays[d]; ok {
		return false
	}
	if c.WeekendsAreBusinessDays {
		return true
	}
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// NextBusinessDay returns d, or the first business day after it
func (c *Calendar) NextBusinessDay(d Date) Date {
	for !c.IsBusinessDay(d) {
		d = d.AddDays(1)
	}
	return d
}

// AddNotice returns the first date on which an action noticed on d may take effect
func (c *Calendar) AddNotice(d Date, days int, mode NoticeMode) Date {
	if days <= 0 {
		return d
	}
	if mode == BusinessDaysOnly {
		for n := 0; n < days; {
			d = d.AddDays(1)
			if c.IsBusinessDay(d) {
				n++
			}
		}
		return d
	}
	return c.NextBusinessDay(d.AddDays(days))
}
