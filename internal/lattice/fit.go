package lattice

import (
	"fmt"
	"math"

	"github.com/rzzdr/bond-oas-engine/internal/curve"
	"github.com/rzzdr/bond-oas-engine/internal/solver"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

const (
	// jmaxFactor is the Hull-White truncation constant for the node range
	jmaxFactor = 0.184
	// maxCenterRate is the largest central short rate a fit may produce
	maxCenterRate = 1.0
	fitTolerance  = 1e-14
	fitMaxIter    = 50
	minAutoShift  = 1.0
)

// Builder calibrates lattices to curves
type Builder struct {
	params Params
	log    *logger.Logger
}

// NewBuilder creates a lattice builder with the given grid
func NewBuilder(params Params) *Builder {
	return &Builder{
		params: params.withDefaults(),
		log:    logger.GetLogger("lattice.builder"),
	}
}

// Params returns the grid used for new fits
func (b *Builder) Params() Params { return b.params }

// Fit calibrates a lattice to c, optionally adding an issuer spread curve
func (b *Builder) Fit(c *curve.Curve, spread *curve.Spread) (*Lattice, error) {
	if c == nil {
		return nil, errors.InvalidInput(errors.CodeInvalidCurve, "no curve")
	}
	src := c
	if spread != nil && len(spread.Points()) > 0 {
		var err error
		if src, err = c.WithSpread(spread); err != nil {
			return nil, err
		}
	}
	sigma, a, err := resolveVolatility(c)
	if err != nil {
		return nil, err
	}
	return b.build(src, sigma, a, b.params)
}

// FitZero calibrates a zero-volatility lattice to c
func (b *Builder) FitZero(c *curve.Curve) (*Lattice, error) {
	if c == nil {
		return nil, errors.InvalidInput(errors.CodeInvalidCurve, "no curve")
	}
	return b.build(c, 0, 0, b.params)
}

// FitSpread calibrates a lattice to base's curve plus spread, keeping base's
// volatility and mean reversion
func (b *Builder) FitSpread(base *Lattice, spread *curve.Spread) (*Lattice, error) {
	if spread == nil || len(spread.Points()) == 0 {
		return base, nil
	}
	span := math.Max(base.source.Span(), spread.Span())
	c := base.ts.ParCurve(span, spread.At).WithVolatility(base.source)
	return b.build(c, base.sigma, base.a, base.params)
}

// FitShift shifts base by a parallel bp. ShiftPar shifts the par curve and
// recalibrates; ShiftSpot offsets the node rates of base.
func (b *Builder) FitShift(base *Lattice, bp float64, mode ShiftMode) (*Lattice, error) {
	if mode == ShiftSpot {
		return base.withSpot(bp), nil
	}
	if bp == 0 {
		return base, nil
	}
	if cached, ok := base.cachedShift(bp); ok {
		return cached, nil
	}
	c := base.ts.ParCurve(base.source.Span(), func(float64) float64 { return bp }).WithVolatility(base.source)
	shifted, err := b.build(c, base.sigma, base.a, base.params)
	if err != nil {
		return nil, err
	}
	base.storeShift(bp, shifted)
	return shifted, nil
}

// FitShiftAuto builds the up and down par shifts of base, halving bp until both
// legs calibrate. It returns the legs and the shift actually used.
func (b *Builder) FitShiftAuto(base *Lattice, bp float64) (up, down *Lattice, used float64, err error) {
	for used = math.Abs(bp); used >= minAutoShift; used /= 2 {
		up, err = b.FitShift(base, used, ShiftPar)
		if err != nil {
			b.log.Warnw("Up shift failed, halving", "bp", used, "error", err)
			continue
		}
		down, err = b.FitShift(base, -used, ShiftPar)
		if err != nil {
			b.log.Warnw("Down shift failed, halving", "bp", used, "error", err)
			continue
		}
		return up, down, used, nil
	}
	msg := fmt.Sprintf("no shift of %.2fbp or less calibrates", math.Abs(bp))
	if err == nil {
		return nil, nil, 0, errors.Computation(errors.CodeTreeFit, msg)
	}
	return nil, nil, 0, errors.WithCode(err, errors.ClassComputation, errors.CodeTreeFit, msg)
}

// Tent is a shift of BP basis points at Target fading linearly to zero at the
// anchors. A non-positive anchor holds the shift flat on that side.
type Tent struct {
	Target float64
	Left   float64
	Right  float64
	BP     float64
}

// At returns the tent's shift in basis points at t years
func (t Tent) At(years float64) float64 {
	switch {
	case years <= t.Target:
		if t.Left <= 0 || t.Left >= t.Target {
			return t.BP
		}
		if years <= t.Left {
			return 0
		}
		return t.BP * (years - t.Left) / (t.Target - t.Left)
	default:
		if t.Right <= 0 || t.Right <= t.Target {
			return t.BP
		}
		if years >= t.Right {
			return 0
		}
		return t.BP * (t.Right - years) / (t.Right - t.Target)
	}
}

// FitTent shifts base's par curve by a tent and recalibrates
func (b *Builder) FitTent(base *Lattice, tent Tent) (*Lattice, error) {
	span := math.Max(base.source.Span(), tent.Right)
	c := base.ts.ParCurve(span, tent.At).WithVolatility(base.source)
	return b.build(c, base.sigma, base.a, base.params)
}

// FitBlend calibrates a lattice whose par curve and volatility lie a fraction
// w of the way from x to y
func (b *Builder) FitBlend(x, y *Lattice, w float64) (*Lattice, error) {
	switch {
	case w <= 0:
		return x, nil
	case w >= 1:
		return y, nil
	}
	span := math.Max(x.source.Span(), y.source.Span())
	c := x.ts.ParCurve(span, func(t float64) float64 {
		return 100 * w * (y.ts.ParRate(t) - x.ts.ParRate(t))
	})
	sigma := (1-w)*x.sigma + w*y.sigma
	a := (1-w)*x.a + w*y.a
	return b.build(c, sigma, a, x.params)
}

// resolveVolatility returns the decimal short-rate volatility and mean
// reversion speed implied by c's volatility mode
func resolveVolatility(c *curve.Curve) (float64, float64, error) {
	sigma := c.Volatility() / 100
	if c.Mode() == curve.MeanReversionMode {
		return sigma, c.MeanReversion() / 100, nil
	}
	long := c.LongVolatility() / 100
	switch {
	case long > sigma:
		return 0, 0, errors.InvalidInputf(errors.CodeInvalidCurve,
			"long volatility %.4f exceeds short volatility %.4f", c.LongVolatility(), c.Volatility())
	case sigma == 0, long == sigma:
		return sigma, 0, nil
	case long == 0:
		return 0, 0, errors.InvalidInput(errors.CodeInvalidCurve, "zero long volatility needs infinite mean reversion")
	}
	res, err := solver.Brent(func(a float64) float64 {
		return termVol(sigma, a, curve.LongVolYears) - long
	}, 1e-10, 10, 1e-12, 200)
	if err != nil {
		return 0, 0, errors.WithCode(err, errors.ClassInvalidInput, errors.CodeInvalidCurve,
			"no mean reversion matches the long volatility")
	}
	return sigma, res.X, nil
}

func (b *Builder) build(c *curve.Curve, sigma, a float64, params Params) (*Lattice, error) {
	src := c.Clone()
	ts, err := src.TermStructure()
	if err != nil {
		return nil, err
	}

	horizon := math.Max(ts.Span(), params.HorizonYears)
	dt := 1 / float64(params.StepsPerYear)
	steps := int(math.Ceil(horizon/dt - 1e-9))

	l := &Lattice{
		params: params,
		source: src,
		ts:     ts,
		sigma:  sigma,
		a:      a,
		dt:     dt,
		steps:  steps,
	}

	if sigma == 0 {
		err = l.fitDeterministic()
	} else {
		l.layout()
		err = l.fitForward(b.log)
	}
	if err != nil {
		b.log.Warnw("Lattice calibration failed", "volatility", sigma, "mean_reversion", a, "error", err)
		return nil, err
	}
	b.log.Debugw("Lattice calibrated", "steps", steps, "jmax", l.jmax, "volatility", sigma, "mean_reversion", a)
	return l, nil
}

// fitDeterministic sets one node per step carrying the forward rate
func (l *Lattice) fitDeterministic() error {
	l.jmax = 0
	l.expJ = []float64{1}
	l.kUp = []int{0}
	l.pu, l.pm, l.pd = []float64{0}, []float64{1}, []float64{0}
	l.center = make([]float64, l.steps)
	l.discount = make([]float64, l.steps+1)
	for i := 0; i <= l.steps; i++ {
		l.discount[i] = l.ts.Factor(float64(i) * l.dt)
	}
	for i := 0; i < l.steps; i++ {
		r := -math.Log(l.discount[i+1]/l.discount[i]) / l.dt
		if r > maxCenterRate {
			return errors.Computationf(errors.CodeTreeFit, "forward rate %.2f%% at %.2f years is implausible", 100*r, float64(i)*l.dt)
		}
		l.center[i] = r
	}
	return nil
}

// layout sets the node spacing, truncation and branching probabilities
func (l *Lattice) layout() {
	l.dx = l.sigma * math.Sqrt(3*l.dt)
	l.jmax = l.steps
	if l.a > 0 {
		if j := int(math.Ceil(jmaxFactor / (l.a * l.dt))); j < l.jmax {
			l.jmax = j
		}
	}

	n := 2*l.jmax + 1
	l.expJ = make([]float64, n)
	l.kUp = make([]int, n)
	l.pu = make([]float64, n)
	l.pm = make([]float64, n)
	l.pd = make([]float64, n)

	for j := -l.jmax; j <= l.jmax; j++ {
		b := j + l.jmax
		l.expJ[b] = math.Exp(float64(j) * l.dx)
		m := l.a * float64(j) * l.dt
		m2 := m * m
		switch {
		case j == l.jmax && l.jmax < l.steps:
			l.kUp[b] = j
			l.pu[b] = 7.0/6 + (m2-3*m)/2
			l.pm[b] = -1.0/3 - m2 + 2*m
			l.pd[b] = 1.0/6 + (m2-m)/2
		case j == -l.jmax && l.jmax < l.steps:
			l.kUp[b] = j + 2
			l.pu[b] = 1.0/6 + (m2+m)/2
			l.pm[b] = -1.0/3 - m2 - 2*m
			l.pd[b] = 7.0/6 + (m2+3*m)/2
		default:
			l.kUp[b] = j + 1
			l.pu[b] = 1.0/6 + (m2-m)/2
			l.pm[b] = 2.0/3 - m2
			l.pd[b] = 1.0/6 + (m2+m)/2
		}
	}
}

// fitForward solves each step's central rate so the Arrow-Debreu prices
// reprice the term structure
func (l *Lattice) fitForward(log *logger.Logger) error {
	l.center = make([]float64, l.steps)
	l.discount = make([]float64, l.steps+1)
	l.discount[0] = 1

	q := make([]float64, 1, 2*l.jmax+1)
	q[0] = 1
	next := make([]float64, 0, 2*l.jmax+1)
	alpha := math.Log(math.Max(l.ts.ForwardRate(0)/100, 1e-4))

	for i := 0; i < l.steps; i++ {
		target := l.ts.Factor(float64(i+1) * l.dt)
		if target >= l.discount[i] {
			return errors.Computationf(errors.CodeTreeFit,
				"non-positive forward rate at %.2f years", float64(i)*l.dt)
		}
		var err error
		alpha, err = l.solveStep(i, q, target, alpha)
		if err != nil {
			log.Debugw("Step calibration failed", "step", i, "error", err)
			return err
		}
		l.center[i] = math.Exp(alpha)
		if l.center[i] > maxCenterRate {
			return errors.Computationf(errors.CodeTreeFit,
				"short rate %.2f%% at %.2f years is implausible", 100*l.center[i], float64(i)*l.dt)
		}

		next = l.propagate(i, q, 0, next)
		q, next = next, q
		sum := 0.0
		for _, v := range q {
			sum += v
		}
		l.discount[i+1] = sum
	}
	return nil
}

// stepPrice returns the price at step i of 1 paid at step i+1 when the
// central rate is exp(alpha), and its derivative in alpha
func (l *Lattice) stepPrice(i int, q []float64, alpha float64) (float64, float64) {
	w := l.Width(i)
	c := math.Exp(alpha)
	p, dp := 0.0, 0.0
	for j := -w; j <= w; j++ {
		r := c * l.expJ[j+l.jmax]
		if r >= maxNodeRate {
			p += q[j+w] * math.Exp(-maxNodeRate*l.dt)
			continue
		}
		d := q[j+w] * math.Exp(-r*l.dt)
		p += d
		dp -= d * r * l.dt
	}
	return p, dp
}

func (l *Lattice) solveStep(i int, q []float64, target, guess float64) (float64, error) {
	w := l.Width(i)
	lo := -40.0
	hi := math.Log(maxNodeRate) + float64(w)*l.dx
	f := func(alpha float64) float64 {
		p, _ := l.stepPrice(i, q, alpha)
		return p - target
	}

	alpha := math.Min(math.Max(guess, lo), hi)
	for iter := 0; iter < fitMaxIter; iter++ {
		p, dp := l.stepPrice(i, q, alpha)
		diff := p - target
		if math.Abs(diff) < fitTolerance {
			return alpha, nil
		}
		if dp == 0 {
			break
		}
		step := diff / dp
		alpha -= step
		if alpha < lo || alpha > hi || math.IsNaN(alpha) {
			break
		}
		if math.Abs(step) < 1e-13 {
			return alpha, nil
		}
	}

	res, err := solver.Brent(f, lo, hi, 1e-13, 200)
	if err != nil {
		return 0, errors.WithCode(err, errors.ClassComputation, errors.CodeTreeFit,
			fmt.Sprintf("no short rate reprices the curve at %.2f years", float64(i)*l.dt))
	}
	return res.X, nil
}
