package valuation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

func zeroVol(t *testing.T, rate float64) *lattice.Lattice {
	t.Helper()
	l, err := lattice.NewBuilder(lattice.DefaultParams()).FitZero(flatCurve(t, rate, 0, 0))
	require.NoError(t, err)
	return l
}

func TestYTMAtPar(t *testing.T) {
	b := newBond(t, 5, d(2000, 1, 15), d(2030, 1, 15))
	v := configured(t, b, zeroVol(t, 5), d(2000, 1, 15))

	y, err := v.YTM(100)
	require.NoError(t, err)
	assert.InDelta(t, 5, y, 1e-6)

	cfy, err := v.CFY(100)
	require.NoError(t, err)
	assert.InDelta(t, y, cfy, 1e-9)
}

func TestPriceYieldRoundTrip(t *testing.T) {
	b := newBond(t, 5, d(2000, 1, 15), d(2030, 1, 15))
	v := configured(t, b, zeroVol(t, 5), d(2003, 4, 2))

	tests := []struct {
		name  string
		price float64
	}{
		{"discount", 95},
		{"par", 100},
		{"premium", 112.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y, err := v.YTM(tt.price)
			require.NoError(t, err)
			p, err := v.PriceFromYield(y)
			require.NoError(t, err)
			assert.InDelta(t, tt.price, p, 1e-7)
		})
	}

	_, err := v.PriceFromYield(-60)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidYield))
	_, err = v.YTM(0)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidPrice))
}

func TestYieldToWorst(t *testing.T) {
	b := newBond(t, 6, d(2013, 7, 1), d(2033, 7, 1))
	require.NoError(t, b.AddCall(d(2018, 7, 1), 100))
	v := configured(t, b, zeroVol(t, 5), d(2013, 7, 1))

	t.Run("premium is called first", func(t *testing.T) {
		w, err := v.YieldToWorst(110, false)
		require.NoError(t, err)
		assert.Equal(t, models.RedemptionCall, w.Type)
		assert.Equal(t, 20180701, w.Date)

		ytm, err := v.YTM(110)
		require.NoError(t, err)
		assert.Less(t, w.Yield, ytm)
	})

	t.Run("ties go to the earliest date", func(t *testing.T) {
		w, err := v.YieldToWorst(100, false)
		require.NoError(t, err)
		assert.InDelta(t, 6, w.Yield, 1e-6)
		assert.Equal(t, 20180701, w.Date)
	})

	t.Run("discount runs to maturity", func(t *testing.T) {
		w, err := v.YieldToWorst(90, false)
		require.NoError(t, err)
		assert.Equal(t, models.RedemptionMaturity, w.Type)
		assert.Equal(t, 20330701, w.Date)
	})

	t.Run("price to worst agrees", func(t *testing.T) {
		w, err := v.YieldToWorst(110, false)
		require.NoError(t, err)
		pw, err := v.PriceToWorst(w.Yield, false)
		require.NoError(t, err)
		assert.InDelta(t, 110, pw.Price, 1e-6)
	})
}

// nearCall is a premium 6% bond six days before a European call at par
func nearCall(t *testing.T, rate float64) *Value {
	t.Helper()
	b := newBond(t, 6, d(2013, 7, 1), d(2033, 7, 1))
	require.NoError(t, b.AddCall(d(2018, 7, 1), 100))
	b.SetCallStyle(bond.European)
	b.SetCallNotice(0, calendar.ExtendTrailingEdge)
	return configured(t, b, zeroVol(t, rate), d(2018, 6, 25))
}

func TestYieldToWorstSkipsUnsolvedCandidates(t *testing.T) {
	tests := []struct {
		name  string
		rate  float64
		price float64
	}{
		{"premium below the yield floor", 5, 108},
		{"deep discount above the yield cap", 10, 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := nearCall(t, tt.rate)
			_, _, err := v.YTC(tt.price)
			require.True(t, errors.HasCode(err, errors.CodeComputeYield), "%v", err)
			ytm, err := v.YTM(tt.price)
			require.NoError(t, err)

			w, err := v.YieldToWorst(tt.price, false)
			require.NoError(t, err)
			assert.Equal(t, []int{20180701, 20330701}, w.Dates)
			assert.Equal(t, []models.RedemptionType{models.RedemptionCall, models.RedemptionMaturity}, w.Types)
			assert.Equal(t, models.BadValue, w.Yields[0])
			assert.Equal(t, 1, w.Worst)
			assert.Equal(t, models.RedemptionMaturity, w.Type)
			assert.InDelta(t, ytm, w.Yield, 1e-8)

			rep, err := v.Yields(tt.price)
			require.NoError(t, err)
			assert.Equal(t, models.BadValue, rep.YTC)
			assert.Zero(t, rep.YTCDate)
			assert.InDelta(t, ytm, rep.YTM, 1e-12)
			assert.InDelta(t, ytm, rep.YTW, 1e-8)
			assert.Equal(t, "maturity", rep.YTWType)
			assert.Greater(t, rep.ModifiedDuration, 0.0)
			require.NotEmpty(t, rep.Warnings)
			assert.Equal(t, errors.WarnYieldUnavailable, rep.Warnings[len(rep.Warnings)-1].Code)
		})
	}
}

func TestWorstListsEveryCandidate(t *testing.T) {
	b := newBond(t, 4, d(2013, 7, 1), d(2033, 7, 1))
	require.NoError(t, b.SetFaceAmount(1000))
	for y := 2024; y < 2033; y++ {
		require.NoError(t, b.AddSink(d(y, 7, 1), 100, 100))
	}
	require.NoError(t, b.AddCall(d(2020, 7, 1), 101))
	v := configured(t, b, zeroVol(t, 5), d(2013, 7, 1))

	w, err := v.YieldToWorst(95, false)
	require.NoError(t, err)
	assert.NotContains(t, w.Types, models.RedemptionSink)
	assert.Len(t, w.Yields, len(w.Dates))
	assert.Equal(t, w.Dates[w.Worst], w.Date)
	assert.Equal(t, w.Yields[w.Worst], w.Yield)
	for _, y := range w.Yields {
		assert.GreaterOrEqual(t, y, w.Yield-1e-8)
	}

	sunk, err := v.YieldToWorst(95, true)
	require.NoError(t, err)
	assert.Contains(t, sunk.Types, models.RedemptionSink)
	assert.Greater(t, len(sunk.Dates), len(w.Dates))
	assert.LessOrEqual(t, sunk.Yield, w.Yield)

	pw, err := v.PriceToWorst(5, true)
	require.NoError(t, err)
	assert.Len(t, pw.Prices, len(pw.Dates))
	assert.Nil(t, pw.Yields)
	assert.Equal(t, pw.Prices[pw.Worst], pw.Price)
	for _, p := range pw.Prices {
		assert.GreaterOrEqual(t, p, pw.Price-1e-8)
	}
}

func TestYieldsReport(t *testing.T) {
	b := newBond(t, 6, d(2013, 7, 1), d(2033, 7, 1))
	require.NoError(t, b.AddCall(d(2018, 7, 1), 100))
	v := configured(t, b, zeroVol(t, 5), d(2013, 7, 1))

	rep, err := v.Yields(100)
	require.NoError(t, err)
	assert.InDelta(t, 6, rep.YTM, 1e-6)
	assert.InDelta(t, 6, rep.YTC, 1e-6)
	assert.Equal(t, 20180701, rep.YTCDate)
	assert.Equal(t, models.BadValue, rep.YTP)
	assert.Greater(t, rep.ModifiedDuration, 0.0)
	assert.Greater(t, rep.ModifiedConvexity, 0.0)
	assert.InDelta(t, rep.ModifiedDuration*100*1e-4, rep.DV01, 1e-9)
	assert.InDelta(t, 20, rep.WAM, 1e-9)

	_, _, err = v.YTP(100)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidYield))
}

func TestConvertQuotes(t *testing.T) {
	b := newBond(t, 4, d(2010, 2, 1), d(2025, 2, 1))
	require.NoError(t, b.AddCall(d(2017, 2, 1), 101))
	b.SetCallStyle(bond.European)
	v := configured(t, b, zeroVol(t, 4), d(2013, 11, 20))

	y, err := v.Convert(models.Quote{Type: models.QuotePrice, Value: 97}, models.QuoteYTM)
	require.NoError(t, err)
	p, err := v.Convert(models.Quote{Type: models.QuoteYTM, Value: y}, models.QuotePrice)
	require.NoError(t, err)
	assert.InDelta(t, 97, p, 1e-7)

	ytc, err := v.Convert(models.Quote{Type: models.QuotePrice, Value: 97}, models.QuoteYTC)
	require.NoError(t, err)
	p, err = v.PriceFromQuote(models.Quote{Type: models.QuoteYTC, Value: ytc})
	require.NoError(t, err)
	assert.InDelta(t, 97, p, 1e-7)

	oas, err := v.Convert(models.Quote{Type: models.QuotePrice, Value: 97}, models.QuoteOAS)
	require.NoError(t, err)
	p, err = v.Convert(models.Quote{Type: models.QuoteOAS, Value: oas}, models.QuotePrice)
	require.NoError(t, err)
	assert.InDelta(t, 97, p, 1e-6)

	_, err = v.PriceFromQuote(models.Quote{Type: models.QuoteYTP, Value: 4})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidQuoteType))
	_, err = v.Convert(models.Quote{Type: models.QuotePrice, Value: 97}, models.QuoteType(42))
	assert.True(t, errors.HasCode(err, errors.CodeInvalidQuoteType))
}
