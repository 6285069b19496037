package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrent(t *testing.T) {
	tests := []struct {
		name string
		f    func(float64) float64
		a, b float64
		want float64
	}{
		{"linear", func(x float64) float64 { return 2*x - 3 }, 0, 10, 1.5},
		{"cubic", func(x float64) float64 { return x*x*x - 2*x - 5 }, 2, 3, 2.0945514815423265},
		{"decreasing exponential", func(x float64) float64 { return math.Exp(-x) - 0.5 }, 0, 5, math.Ln2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Brent(tt.f, tt.a, tt.b, 1e-12, 100)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, res.X, 1e-10)
		})
	}
}

func TestBrentRequiresSignChange(t *testing.T) {
	_, err := Brent(func(x float64) float64 { return x*x + 1 }, -1, 1, 1e-12, 100)
	assert.ErrorIs(t, err, ErrNoBracket)
}

func TestBracket(t *testing.T) {
	f := func(x float64) float64 { return 100 - x }
	a, b, err := Bracket(f, 0, 10, -1000, 1000, 20)
	require.NoError(t, err)
	assert.LessOrEqual(t, a, 100.0)
	assert.GreaterOrEqual(t, b, 100.0)

	_, _, err = Bracket(f, 0, 10, -50, 50, 20)
	assert.ErrorIs(t, err, ErrNoBracket)
}
