package lattice

import (
	"math"
	"sync"

	"github.com/rzzdr/bond-oas-engine/internal/curve"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/pools"
)

// maxNodeRate caps node rates in the far tails of an unbounded lognormal
// lattice so that discounting never overflows
const maxNodeRate = 5.0

// stateBuffers recycles the state price vectors of Discount
var stateBuffers = pools.NewSlicePool[float64](256)

// Params controls the lattice grid
type Params struct {
	StepsPerYear int
	HorizonYears float64
}

// DefaultParams returns the standard grid
func DefaultParams() Params {
	return Params{StepsPerYear: 12, HorizonYears: 50}
}

func (p Params) withDefaults() Params {
	if p.StepsPerYear <= 0 {
		p.StepsPerYear = 12
	}
	if p.HorizonYears <= 0 {
		p.HorizonYears = 50
	}
	return p
}

// ShiftMode selects how a parallel duration shift is applied
type ShiftMode int

const (
	// ShiftPar shifts the par curve and recalibrates
	ShiftPar ShiftMode = iota
	// ShiftSpot offsets every node rate of the existing lattice
	ShiftSpot
)

// String returns the mode name
func (m ShiftMode) String() string {
	if m == ShiftSpot {
		return "spot"
	}
	return "par"
}

// Lattice is a calibrated recombining trinomial short-rate tree in ln(r).
// It is immutable once built and safe for concurrent readers.
type Lattice struct {
	params Params
	source *curve.Curve
	ts     *curve.TermStructure

	sigma float64 // short-rate volatility, decimal
	a     float64 // mean reversion speed, decimal

	dt    float64
	steps int
	dx    float64
	jmax  int

	// center[i] is exp(alpha_i); node rate r(i, j) = center[i] * expJ[j+jmax]
	center []float64
	expJ   []float64
	// per-j branching, indexed j+jmax
	kUp        []int
	pu, pm, pd []float64
	// discount[i] is the Arrow-Debreu sum at step i
	discount []float64

	shift float64 // spot offset added to every node rate, decimal

	mu      sync.Mutex
	shifted map[float64]*Lattice
}

// Steps returns the number of time steps
func (l *Lattice) Steps() int { return l.steps }

// Dt returns the step length in years
func (l *Lattice) Dt() float64 { return l.dt }

// Horizon returns the time covered by the lattice in years
func (l *Lattice) Horizon() float64 { return float64(l.steps) * l.dt }

// Deterministic reports whether the lattice has a single node per step
func (l *Lattice) Deterministic() bool { return l.sigma == 0 }

// Width returns w such that step i has nodes j = -w..w
func (l *Lattice) Width(i int) int {
	if i < l.jmax {
		return i
	}
	return l.jmax
}

// Nodes returns the number of nodes at step i
func (l *Lattice) Nodes(i int) int { return 2*l.Width(i) + 1 }

// Rate returns the short rate (decimal, continuously compounded) at node j of step i
func (l *Lattice) Rate(i, j int) float64 {
	r := l.center[i]*l.expJ[j+l.jmax] + l.shift
	if r > maxNodeRate {
		return maxNodeRate
	}
	return r
}

// Rates fills dst with the node rates of step i, indexed j+Width(i)
func (l *Lattice) Rates(i int, dst []float64) []float64 {
	w := l.Width(i)
	dst = dst[:0]
	for j := -w; j <= w; j++ {
		dst = append(dst, l.Rate(i, j))
	}
	return dst
}

// Expect fills dst with the expected value, over one step, of next (values at
// step i+1 indexed j+Width(i+1)) seen from each node of step i
func (l *Lattice) Expect(i int, next, dst []float64) []float64 {
	dst = dst[:0]
	if l.jmax == 0 {
		return append(dst, next[0])
	}
	w := l.Width(i)
	wn := l.Width(i + 1)
	for j := -w; j <= w; j++ {
		b := j + l.jmax
		k := l.kUp[b] + wn
		dst = append(dst, l.pu[b]*next[k]+l.pm[b]*next[k-1]+l.pd[b]*next[k-2])
	}
	return dst
}

// Source returns a copy of the curve the lattice was calibrated to
func (l *Lattice) Source() *curve.Curve { return l.source.Clone() }

// TermStructure returns the discount function the lattice reprices
func (l *Lattice) TermStructure() *curve.TermStructure { return l.ts }

// Volatility returns the short-rate volatility in percent
func (l *Lattice) Volatility() float64 { return 100 * l.sigma }

// MeanReversion returns the resolved mean reversion speed in percent
func (l *Lattice) MeanReversion() float64 { return 100 * l.a }

// SpotShift returns the spot offset in basis points
func (l *Lattice) SpotShift() float64 { return l.shift * 1e4 }

// TermVolatility returns the volatility in percent of the T-year rate implied
// by the short-rate volatility and mean reversion
func (l *Lattice) TermVolatility(years float64) float64 {
	return 100 * termVol(l.sigma, l.a, years)
}

// LongVolatility returns the 30-year term volatility in percent
func (l *Lattice) LongVolatility() float64 {
	return l.TermVolatility(curve.LongVolYears)
}

func termVol(sigma, a, years float64) float64 {
	if years <= 0 {
		return sigma
	}
	if a*years < 1e-10 {
		return sigma
	}
	return sigma * (1 - math.Exp(-a*years)) / (a * years)
}

// MinRate returns the lowest node rate in the lattice, decimal
func (l *Lattice) MinRate() float64 {
	lowest := math.Inf(1)
	for i := 0; i < l.steps; i++ {
		w := l.Width(i)
		lo, hi := l.Rate(i, -w), l.Rate(i, w)
		lowest = math.Min(lowest, math.Min(lo, hi))
	}
	return lowest
}

// Factor returns the discount factor at t implied by the lattice's state prices
func (l *Lattice) Factor(t float64) float64 {
	if t <= 0 {
		return 1
	}
	if l.shift != 0 {
		return l.Discount(t, 0)
	}
	pos := t / l.dt
	i := int(math.Floor(pos + 1e-9))
	if i >= l.steps {
		// flat forward past the horizon
		last := l.discount[l.steps]
		fwd := math.Log(l.discount[l.steps-1]/last) / l.dt
		return last * math.Exp(-fwd*(t-l.Horizon()))
	}
	frac := pos - float64(i)
	if frac < 1e-9 {
		return l.discount[i]
	}
	lo, hi := math.Log(l.discount[i]), math.Log(l.discount[i+1])
	return math.Exp(lo + frac*(hi-lo))
}

// ParRate returns the par rate in percent at maturity t recovered from the lattice
func (l *Lattice) ParRate(t float64) float64 {
	return curve.ParFromFactors(l.Factor, t)
}

// ZeroRate returns the semi-annual zero rate in percent at t recovered from the lattice
func (l *Lattice) ZeroRate(t float64) float64 {
	return curve.FactorToZero(l.Factor(t), t)
}

// Discount returns the value of 1 paid at t, discounting at node rates plus
// oasBP basis points
func (l *Lattice) Discount(t, oasBP float64) float64 {
	if t <= 0 {
		return 1
	}
	s := oasBP / 1e4
	n := int(math.Floor(t/l.dt + 1e-9))
	if n > l.steps {
		n = l.steps
	}
	tau := t - float64(n)*l.dt

	q := append(stateBuffers.Get(), 1)
	next := stateBuffers.Get()
	defer func() {
		stateBuffers.Put(q)
		stateBuffers.Put(next)
	}()
	for i := 0; i < n; i++ {
		next = l.propagate(i, q, s, next)
		q, next = next, q
	}
	if tau < 1e-12 {
		sum := 0.0
		for _, v := range q {
			sum += v
		}
		return sum
	}
	w := l.Width(n)
	step := n
	if step >= l.steps {
		// past the horizon the last step's rates persist
		step = l.steps - 1
	}
	sum := 0.0
	for idx, v := range q {
		sum += v * math.Exp(-(l.Rate(step, idx-w)+s)*tau)
	}
	return sum
}

// propagate pushes state prices q at step i forward one step with spread s
func (l *Lattice) propagate(i int, q []float64, s float64, dst []float64) []float64 {
	dst = dst[:0]
	if l.jmax == 0 {
		return append(dst, q[0]*math.Exp(-(l.Rate(i, 0)+s)*l.dt))
	}
	w := l.Width(i)
	wn := l.Width(i + 1)
	for k := 0; k < 2*wn+1; k++ {
		dst = append(dst, 0)
	}
	for j := -w; j <= w; j++ {
		v := q[j+w]
		if v == 0 {
			continue
		}
		v *= math.Exp(-(l.Rate(i, j) + s) * l.dt)
		b := j + l.jmax
		k := l.kUp[b] + wn
		dst[k] += v * l.pu[b]
		dst[k-1] += v * l.pm[b]
		dst[k-2] += v * l.pd[b]
	}
	return dst
}

// ForwardRates returns par rates in percent for each maturity in mats as seen
// at each forward time in times
func (l *Lattice) ForwardRates(times, mats []float64) [][]float64 {
	out := make([][]float64, len(times))
	for i, T := range times {
		row := make([]float64, len(mats))
		base := l.Factor(T)
		for k, m := range mats {
			row[k] = curve.ParFromFactors(func(x float64) float64 { return l.Factor(T+x) / base }, m)
		}
		out[i] = row
	}
	return out
}

// withSpot returns a shallow copy whose node rates are offset by bp
func (l *Lattice) withSpot(bp float64) *Lattice {
	return &Lattice{
		params:   l.params,
		source:   l.source,
		ts:       l.ts,
		sigma:    l.sigma,
		a:        l.a,
		dt:       l.dt,
		steps:    l.steps,
		dx:       l.dx,
		jmax:     l.jmax,
		center:   l.center,
		expJ:     l.expJ,
		kUp:      l.kUp,
		pu:       l.pu,
		pm:       l.pm,
		pd:       l.pd,
		discount: l.discount,
		shift:    l.shift + bp/1e4,
	}
}

func (l *Lattice) cachedShift(bp float64) (*Lattice, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.shifted[bp]
	return s, ok
}

func (l *Lattice) storeShift(bp float64, s *Lattice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shifted == nil {
		l.shifted = make(map[float64]*Lattice)
	}
	l.shifted[bp] = s
}
