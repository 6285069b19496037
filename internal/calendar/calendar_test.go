package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

func TestLastDayOfMonthLeapYears(t *testing.T) {
	tests := []struct {
		year int
		want int
	}{
		{2000, 29},
		{1900, 28},
		{2004, 29},
		{2013, 28},
		{2400, 29},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LastDayOfMonth(time.February, tt.year), "year %d", tt.year)
	}
	assert.Equal(t, 30, LastDayOfMonth(time.April, 2001))
	assert.Equal(t, 31, LastDayOfMonth(time.December, 2001))
}

func TestParseRejectsMalformedDates(t *testing.T) {
	tests := []struct {
		name  string
		input int
		ok    bool
	}{
		{"valid", 20130701, true},
		{"leap day", 20000229, true},
		{"not a leap year", 19000229, false},
		{"month 13", 20131301, false},
		{"day zero", 20130700, false},
		{"april 31", 20130431, false},
		{"negative", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.input)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.input, d.Int())
				return
			}
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeInvalidDate))
		})
	}
}

func TestAddDaysNormalizes(t *testing.T) {
	assert.Equal(t, MustNew(2000, time.March, 1), MustNew(2000, time.February, 28).AddDays(2))
	assert.Equal(t, MustNew(2001, time.January, 1), MustNew(2000, time.December, 31).AddDays(1))
	assert.Equal(t, MustNew(1999, time.December, 31), MustNew(2000, time.January, 1).AddDays(-1))
	assert.Equal(t, 366, MustNew(2000, time.January, 1).DaysUntil(MustNew(2001, time.January, 1)))
}

func TestAddMonthsPinsDay(t *testing.T) {
	jan31 := MustNew(2013, time.January, 31)
	assert.Equal(t, MustNew(2013, time.February, 28), jan31.AddMonths(1, 31))
	assert.Equal(t, MustNew(2012, time.July, 31), jan31.AddMonths(-6, 31))
	assert.Equal(t, MustNew(2012, time.February, 29), MustNew(2011, time.August, 15).AddMonths(6, 0))
	assert.Equal(t, MustNew(2012, time.December, 15), MustNew(2013, time.June, 15).AddMonths(-6, 15))
}

func TestYearFraction(t *testing.T) {
	tests := []struct {
		name string
		a, b Date
		dc   DayCount
		want float64
	}{
		{"30/360 half year", MustNew(2000, time.January, 1), MustNew(2000, time.July, 1), Thirty360, 0.5},
		{"30/360 month end", MustNew(2013, time.January, 31), MustNew(2013, time.March, 31), Thirty360, 60.0 / 360},
		{"30E/360 february end", MustNew(2013, time.February, 28), MustNew(2013, time.August, 31), ThirtyE360, 180.0 / 360},
		{"act/360", MustNew(2013, time.January, 1), MustNew(2013, time.July, 1), Act360, 181.0 / 360},
		{"act/365", MustNew(2013, time.January, 1), MustNew(2014, time.January, 1), Act365, 1},
		{"act/act leap year", MustNew(2000, time.January, 1), MustNew(2001, time.January, 1), ActAct, 1},
		{"act/act split", MustNew(1999, time.July, 1), MustNew(2000, time.July, 1), ActAct, 184.0/365 + 182.0/366},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, YearFraction(tt.a, tt.b, tt.dc), 1e-12)
			assert.InDelta(t, -tt.want, YearFraction(tt.b, tt.a, tt.dc), 1e-12)
		})
	}
}

func TestNoticeModes(t *testing.T) {
	// 2013-06-28 is a Friday; 2013-07-04 a Thursday holiday
	cal := NewCalendar([]Date{MustNew(2013, time.July, 4)}, false)
	fri := MustNew(2013, time.June, 28)

	assert.False(t, cal.IsBusinessDay(MustNew(2013, time.June, 29)))
	assert.False(t, cal.IsBusinessDay(MustNew(2013, time.July, 4)))

	// 1 calendar day lands on Saturday, rolled to Monday
	assert.Equal(t, MustNew(2013, time.July, 1), cal.AddNotice(fri, 1, ExtendTrailingEdge))
	// 5 business days skip the weekend and the holiday
	assert.Equal(t, MustNew(2013, time.July, 8), cal.AddNotice(fri, 5, BusinessDaysOnly))
	assert.Equal(t, fri, cal.AddNotice(fri, 0, BusinessDaysOnly))

	open := NewCalendar(nil, true)
	assert.Equal(t, MustNew(2013, time.June, 29), open.AddNotice(fri, 1, ExtendTrailingEdge))
}
