package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/engine"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

func callable() bond.Spec {
	return bond.Spec{
		Issue:    20130701,
		Maturity: 20330701,
		Coupon:   6,
		Call: &bond.OptionSpec{
			Style:   "european",
			Strikes: []bond.StrikeSpec{{Date: 20180701, Price: 100}},
		},
	}
}

func TestBondStore(t *testing.T) {
	s := NewInMemoryBondStore()
	require.NoError(t, s.SaveBond(" ACME 6 33 ", callable()))

	b, err := s.GetBond("ACME 6 33")
	require.NoError(t, err)
	assert.Equal(t, "ACME 6 33", b.Name)
	assert.True(t, b.HasOptions())
	assert.Equal(t, []string{"ACME 6 33"}, s.ListBonds())

	// the stored spec is not aliased by the caller's copy
	spec, err := s.GetSpec("ACME 6 33")
	require.NoError(t, err)
	spec.Call.Strikes[0].Price = 50
	again, err := s.GetSpec("ACME 6 33")
	require.NoError(t, err)
	assert.Equal(t, 100.0, again.Call.Strikes[0].Price)

	require.NoError(t, s.DeleteBond("ACME 6 33"))
	_, err = s.GetBond("ACME 6 33")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	assert.True(t, errors.HasCode(s.DeleteBond("ACME 6 33"), errors.CodeNotFound))
}

func TestBondStoreRejectsInvalid(t *testing.T) {
	s := NewInMemoryBondStore()
	assert.True(t, errors.HasCode(s.SaveBond("", callable()), errors.CodeInvalidName))

	bad := callable()
	bad.Maturity = 20131301
	assert.True(t, errors.HasCode(s.SaveBond("bad", bad), errors.CodeInvalidDate))
	assert.Empty(t, s.ListBonds())
}

func TestCurveStore(t *testing.T) {
	s := NewInMemoryCurveStore()
	spec := engine.CurveSpec{Years: []float64{1, 10}, Values: []float64{4, 5}, Volatility: 12, MeanReversion: 3}
	require.NoError(t, s.SaveCurve("usd", spec))
	spec.Values[0] = 99

	got, err := s.GetCurve("usd")
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5}, got.Values)
	assert.Equal(t, []string{"usd"}, s.ListCurves())

	bad := engine.CurveSpec{Years: []float64{1, 10}, Values: []float64{4}}
	assert.True(t, errors.HasCode(s.SaveCurve("bad", bad), errors.CodeInvalidCurve))

	require.NoError(t, s.DeleteCurve("usd"))
	_, err = s.GetCurve("usd")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}
