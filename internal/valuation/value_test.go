package valuation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/internal/curve"
	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

func d(y int, m time.Month, day int) calendar.Date { return calendar.MustNew(y, m, day) }

func flatCurve(t *testing.T, rate, vol, alpha float64) *curve.Curve {
	t.Helper()
	terms := []float64{0.5, 1, 2, 5, 10, 20, 30}
	rates := make([]float64, len(terms))
	for i := range rates {
		rates[i] = rate
	}
	c, err := curve.NewPar(terms, rates)
	require.NoError(t, err)
	require.NoError(t, c.SetVolatility(vol))
	require.NoError(t, c.SetMeanReversion(alpha))
	return c
}

func fit(t *testing.T, c *curve.Curve) *lattice.Lattice {
	t.Helper()
	l, err := lattice.NewBuilder(lattice.DefaultParams()).Fit(c, nil)
	require.NoError(t, err)
	return l
}

func newBond(t *testing.T, coupon float64, dated, maturity calendar.Date) *bond.Bond {
	t.Helper()
	b := bond.New("test")
	require.NoError(t, b.SetDates(dated, 0, maturity))
	require.NoError(t, b.SetCoupon(coupon))
	return b
}

func configured(t *testing.T, b *bond.Bond, l *lattice.Lattice, pvdate calendar.Date) *Value {
	t.Helper()
	v := New(DefaultConfig())
	require.NoError(t, v.Reset(b, l, pvdate, Options{}))
	return v
}

func TestFlatCurveParBondHasZeroOAS(t *testing.T) {
	l, err := lattice.NewBuilder(lattice.DefaultParams()).FitZero(flatCurve(t, 2, 0, 0))
	require.NoError(t, err)
	b := newBond(t, 2, d(2013, 7, 1), d(2023, 7, 1))
	v := configured(t, b, l, d(2013, 7, 1))

	oas, err := v.OAS(100)
	require.NoError(t, err)
	assert.InDelta(t, 0, oas, 0.01)
	assert.Equal(t, Valued, v.State())

	p, err := v.Price(0)
	require.NoError(t, err)
	assert.InDelta(t, 100, p, 1e-4)
}

func TestPriceOASRoundTrip(t *testing.T) {
	l := fit(t, flatCurve(t, 4, 10, 5))
	b := newBond(t, 5, d(2010, 3, 15), d(2035, 3, 15))
	require.NoError(t, b.AddCall(d(2020, 3, 15), 101))
	require.NoError(t, b.AddCall(d(2025, 3, 15), 100))
	require.NoError(t, b.AddPut(d(2018, 3, 15), 98))
	v := configured(t, b, l, d(2013, 5, 20))

	for _, oas := range []float64{-75, 0, 35.5, 150, 400} {
		price, err := v.Price(oas)
		require.NoError(t, err)
		got, err := v.OAS(price)
		require.NoError(t, err)
		assert.InDelta(t, oas, got, 1e-4, "oas %.2f", oas)
	}
}

func TestPriceDecreasesInOAS(t *testing.T) {
	l := fit(t, flatCurve(t, 3, 12, 3))
	b := newBond(t, 4.5, d(2012, 1, 1), d(2032, 1, 1))
	require.NoError(t, b.AddCall(d(2017, 1, 1), 100))
	v := configured(t, b, l, d(2013, 7, 1))

	prev := 0.0
	for i, oas := range []float64{-200, -50, 0, 10, 100, 500} {
		p, err := v.Price(oas)
		require.NoError(t, err)
		if i > 0 {
			assert.Less(t, p, prev, "oas %.0f", oas)
		}
		prev = p
	}
}

func TestAmericanCallCapsNodeValues(t *testing.T) {
	l := fit(t, flatCurve(t, 2, 10, 5))
	b := newBond(t, 6, d(2013, 7, 1), d(2033, 7, 1))
	require.NoError(t, b.AddCall(d(2015, 1, 1), 100))
	b.SetCallNotice(0, calendar.ExtendTrailingEdge)
	v := configured(t, b, l, d(2013, 7, 1))

	from := years(v.pvdate, d(2015, 1, 1))
	checked := 0
	v.priced.observe = func(step int, t0 float64, values []float64) {
		if t0 < from-timeEps {
			return
		}
		limit := 100 + v.priced.accruedAt(t0)
		for _, x := range values {
			assert.LessOrEqual(t, x, limit+1e-9, "step %d", step)
		}
		checked++
	}
	_, err := v.Price(25)
	require.NoError(t, err)
	assert.Greater(t, checked, 200)

	v.priced.observe = nil
	ov, err := v.OptionValue(25)
	require.NoError(t, err)
	assert.Greater(t, ov, 0.0)
}

func TestPutFloorsValue(t *testing.T) {
	l := fit(t, flatCurve(t, 6, 10, 5))
	b := newBond(t, 3, d(2013, 7, 1), d(2033, 7, 1))
	require.NoError(t, b.AddPut(d(2018, 7, 1), 100))
	v := configured(t, b, l, d(2013, 7, 1))

	ov, err := v.OptionValue(0)
	require.NoError(t, err)
	assert.Less(t, ov, 0.0)

	bare := configured(t, b.WithoutOptions(), l, d(2013, 7, 1))
	p, err := v.Price(0)
	require.NoError(t, err)
	pb, err := bare.Price(0)
	require.NoError(t, err)
	assert.Greater(t, p, pb)
	assert.InDelta(t, -ov, p-pb, 1e-9)
}

func TestStateMachine(t *testing.T) {
	v := New(DefaultConfig())
	assert.Equal(t, Uninitialized, v.State())
	p, err := v.Price(0)
	assert.Equal(t, models.BadValue, p)
	assert.True(t, errors.HasCode(err, errors.CodeUninitialized))
	assert.True(t, errors.HasClass(err, errors.ClassInitialization))

	l, err := lattice.NewBuilder(lattice.DefaultParams()).FitZero(flatCurve(t, 3, 0, 0))
	require.NoError(t, err)
	b := newBond(t, 3, d(2013, 7, 1), d(2023, 7, 1))
	require.NoError(t, v.Reset(b, l, d(2014, 2, 1), Options{}))
	assert.Equal(t, Configured, v.State())

	p1, err := v.Price(0)
	require.NoError(t, err)
	assert.Equal(t, Valued, v.State())
	assert.Equal(t, p1, v.LastPrice())

	// a mutated bond is rebuilt before the next read
	require.NoError(t, b.SetCoupon(4))
	p2, err := v.Price(0)
	require.NoError(t, err)
	assert.Greater(t, p2, p1)

	_, err = v.Price(20000)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidOAS))
	_, err = v.OAS(-1)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidPrice))

	require.NoError(t, v.Reset(b, l, d(2014, 2, 1), Options{}))
	assert.Equal(t, Configured, v.State())

	err = v.Reset(b, l, d(2024, 1, 1), Options{})
	assert.True(t, errors.HasCode(err, errors.CodeMatured))
	assert.Equal(t, Uninitialized, v.State())
}

func TestOASWithoutBracketFails(t *testing.T) {
	l, err := lattice.NewBuilder(lattice.DefaultParams()).FitZero(flatCurve(t, 3, 0, 0))
	require.NoError(t, err)
	b := newBond(t, 3, d(2013, 7, 1), d(2014, 7, 1))
	v := configured(t, b, l, d(2013, 7, 1))

	// no spread in range makes a one-year bond worth 900
	oas, err := v.OAS(900)
	assert.Equal(t, models.BadValue, oas)
	assert.True(t, errors.HasCode(err, errors.CodeComputeOAS))
}

func TestAfterTaxChangesValue(t *testing.T) {
	l := fit(t, flatCurve(t, 4, 10, 5))
	b := newBond(t, 5, d(2013, 7, 1), d(2028, 7, 1))
	require.NoError(t, b.SetTaxRates(bond.TaxRates{Income: 40}))

	pre := configured(t, b, l, d(2013, 7, 1))
	post := New(DefaultConfig())
	require.NoError(t, post.Reset(b, l, d(2013, 7, 1), Options{AfterTax: true}))
	assert.Equal(t, 40.0, post.TaxRates().Income)

	p0, err := pre.Price(0)
	require.NoError(t, err)
	p1, err := post.Price(0)
	require.NoError(t, err)
	assert.NotEqual(t, p0, p1)
}

func TestSinkingFundDelivery(t *testing.T) {
	l := fit(t, flatCurve(t, 7, 10, 5))
	b := newBond(t, 4, d(2013, 7, 1), d(2033, 7, 1))
	require.NoError(t, b.SetFaceAmount(1000))
	for y := 2024; y < 2033; y++ {
		require.NoError(t, b.AddSink(d(y, 7, 1), 100, 100))
	}
	v := configured(t, b, l, d(2013, 7, 1))
	plain, err := v.Price(0)
	require.NoError(t, err)

	b.SetSinkDelivery(true)
	withDelivery, err := v.Price(0)
	require.NoError(t, err)
	// buying in a discount bond at market is worth something to the issuer
	assert.Less(t, withDelivery, plain)
}

func TestFlowsReport(t *testing.T) {
	l, err := lattice.NewBuilder(lattice.DefaultParams()).FitZero(flatCurve(t, 3, 0, 0))
	require.NoError(t, err)
	b := newBond(t, 4, d(2013, 7, 1), d(2018, 7, 1))
	v := configured(t, b, l, d(2013, 9, 1))

	dirty, err := v.DirtyPrice(15)
	require.NoError(t, err)
	rep, err := v.Flows()
	require.NoError(t, err)
	require.Len(t, rep.Flows, 10)
	assert.Equal(t, 15.0, rep.OAS)
	assert.InDelta(t, 20, rep.TotalInterest, 1e-9)
	assert.InDelta(t, 100, rep.TotalPrincipal, 1e-9)
	assert.InDelta(t, dirty, rep.TotalPV, 1e-6)
	assert.Equal(t, 20140101, rep.Flows[0].Date)
}

func TestAccruedWithoutLattice(t *testing.T) {
	b := newBond(t, 5, d(2000, 1, 15), d(2030, 1, 15))
	ai, days, err := Accrued(b, d(2000, 4, 15))
	require.NoError(t, err)
	assert.InDelta(t, 1.25, ai, 1e-12)
	assert.Equal(t, 90, days)

	_, _, err = Accrued(b, d(1999, 4, 15))
	assert.True(t, errors.HasCode(err, errors.CodeInvalidPVDate))
}
