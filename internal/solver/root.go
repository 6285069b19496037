// Package solver holds the one-dimensional root finders shared by the OAS,
// yield, calibration and mean-reversion searches.
package solver

import (
	"errors"
	"math"
)

var (
	// ErrNoBracket means the function has no sign change on the interval
	ErrNoBracket = errors.New("root not bracketed")
	// ErrNoConvergence means the iteration cap was hit
	ErrNoConvergence = errors.New("root search did not converge")
	// ErrNaN means the function returned NaN
	ErrNaN = errors.New("function returned NaN")
)

const machEps = 2.220446049250313e-16

// Result of a root search
type Result struct {
	X          float64
	F          float64
	Iterations int
}

// Brent finds a root of f in [a, b] by inverse quadratic interpolation with
// bisection fallback. f(a) and f(b) must differ in sign.
func Brent(f func(float64) float64, a, b, tol float64, maxIter int) (Result, error) {
	fa, fb := f(a), f(b)
	if math.IsNaN(fa) || math.IsNaN(fb) {
		return Result{}, ErrNaN
	}
	if fa == 0 {
		return Result{X: a}, nil
	}
	if fb == 0 {
		return Result{X: b}, nil
	}
	if (fa > 0) == (fb > 0) {
		return Result{}, ErrNoBracket
	}

	c, fc := b, fb
	var d, e float64
	for iter := 1; iter <= maxIter; iter++ {
		if (fb > 0) == (fc > 0) {
			c, fc = a, fa
			d = b - a
			e = d
		}
		if math.Abs(fc) < math.Abs(fb) {
			a, b, c = b, c, b
			fa, fb, fc = fb, fc, fb
		}

		tol1 := 2*machEps*math.Abs(b) + 0.5*tol
		xm := 0.5 * (c - b)
		if math.Abs(xm) <= tol1 || fb == 0 {
			return Result{X: b, F: fb, Iterations: iter}, nil
		}

		if math.Abs(e) >= tol1 && math.Abs(fa) > math.Abs(fb) {
			s := fb / fa
			var p, q float64
			if a == c {
				p = 2 * xm * s
				q = 1 - s
			} else {
				q = fa / fc
				r := fb / fc
				p = s * (2*xm*q*(q-r) - (b-a)*(r-1))
				q = (q - 1) * (r - 1) * (s - 1)
			}
			if p > 0 {
				q = -q
			}
			p = math.Abs(p)
			if 2*p < math.Min(3*xm*q-math.Abs(tol1*q), math.Abs(e*q)) {
				e = d
				d = p / q
			} else {
				d = xm
				e = d
			}
		} else {
			d = xm
			e = d
		}

		a, fa = b, fb
		if math.Abs(d) > tol1 {
			b += d
		} else {
			b += math.Copysign(tol1, xm)
		}
		fb = f(b)
		if math.IsNaN(fb) {
			return Result{X: b, Iterations: iter}, ErrNaN
		}
	}
	return Result{X: b, F: fb, Iterations: maxIter}, ErrNoConvergence
}

// Bracket widens a symmetric interval around x0 by doubling step until f
// changes sign, never leaving [lo, hi]. It returns the narrowest sign-changing
// sub-interval found.
func Bracket(f func(float64) float64, x0, step, lo, hi float64, maxExpand int) (float64, float64, error) {
	x0 = math.Min(math.Max(x0, lo), hi)
	f0 := f(x0)
	if math.IsNaN(f0) {
		return 0, 0, ErrNaN
	}
	if f0 == 0 {
		return x0, x0, nil
	}

	left, fLeft := x0, f0
	right, fRight := x0, f0
	for k := 0; k < maxExpand; k++ {
		if right < hi {
			next := math.Min(x0+step, hi)
			fn := f(next)
			if !math.IsNaN(fn) {
				if (fn > 0) != (fRight > 0) || fn == 0 {
					return right, next, nil
				}
				right, fRight = next, fn
			}
		}
		if left > lo {
			next := math.Max(x0-step, lo)
			fn := f(next)
			if !math.IsNaN(fn) {
				if (fn > 0) != (fLeft > 0) || fn == 0 {
					return next, left, nil
				}
				left, fLeft = next, fn
			}
		}
		if left <= lo && right >= hi {
			break
		}
		step *= 2
	}
	return 0, 0, ErrNoBracket
}
