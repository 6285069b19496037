package models

import "github.com/rzzdr/bond-oas-engine/pkg/utils/errors"

// Everything one valuation call produces for a bond
type BondReport struct {
	PVDate      int     `json:"pvdate"`
	OAS         float64 `json:"oas"`
	Price       float64 `json:"price"`
	DirtyPrice  float64 `json:"dirty_price"`
	Accrued     float64 `json:"accrued"`
	AccruedDays int     `json:"accrued_days"`
	OptionValue float64 `json:"option_value"`

	Duration     float64 `json:"duration"`
	Convexity    float64 `json:"convexity"`
	DurationUp   float64 `json:"duration_up"`
	DurationDown float64 `json:"duration_down"`
	DV01         float64 `json:"dv01"`
	ShiftBP      float64 `json:"shift_bp"`
	ShiftMode    string  `json:"shift_mode"`

	Yields YieldReport `json:"yields"`

	Warnings []errors.Warning `json:"warnings,omitempty"`
}

// Conventional yields and their sensitivities at a clean price
type YieldReport struct {
	Price             float64 `json:"price"`
	YTM               float64 `json:"ytm"`
	YTC               float64 `json:"ytc"`
	YTCDate           int     `json:"ytc_date,omitempty"`
	YTP               float64 `json:"ytp"`
	YTPDate           int     `json:"ytp_date,omitempty"`
	CFY               float64 `json:"cfy"`
	YTW               float64 `json:"ytw"`
	YTWDate           int     `json:"ytw_date"`
	YTWType           string  `json:"ytw_type"`
	ModifiedDuration  float64 `json:"modified_duration"`
	ModifiedConvexity float64 `json:"modified_convexity"`
	DV01              float64 `json:"dv01"`
	WAM               float64 `json:"wam"`

	Warnings []errors.Warning `json:"warnings,omitempty"`
}

// The worst-case yield or price over every redemption candidate. Dates,
// Types and Yields (or Prices) list each candidate; Worst indexes the winner.
// A candidate that cannot be solved carries BadValue.
type WorstReport struct {
	Yield float64        `json:"yield"`
	Price float64        `json:"price"`
	Date  int            `json:"date"`
	Type  RedemptionType `json:"type"`

	Worst  int              `json:"worst"`
	Dates  []int            `json:"dates"`
	Types  []RedemptionType `json:"types"`
	Yields []float64        `json:"yields,omitempty"`
	Prices []float64        `json:"prices,omitempty"`

	Warnings []errors.Warning `json:"warnings,omitempty"`
}

// A single cashflow line of a flow report
type Flow struct {
	Date      int     `json:"date"`
	Years     float64 `json:"years"`
	Interest  float64 `json:"interest"`
	Principal float64 `json:"principal"`
	Total     float64 `json:"total"`
	ZeroRate  float64 `json:"zero_rate"`
	Factor    float64 `json:"factor"`
	PV        float64 `json:"pv"`
	Call      float64 `json:"call,omitempty"`
	Put       float64 `json:"put,omitempty"`
}

// The remaining cashflows of a bond discounted at an OAS
type FlowReport struct {
	PVDate         int     `json:"pvdate"`
	OAS            float64 `json:"oas"`
	Flows          []Flow  `json:"flows"`
	TotalInterest  float64 `json:"total_interest"`
	TotalPrincipal float64 `json:"total_principal"`
	TotalPV        float64 `json:"total_pv"`

	Warnings []errors.Warning `json:"warnings,omitempty"`
}

// Key-rate durations over a maturity grid
type KeyRateReport struct {
	Maturities        []float64 `json:"maturities"`
	Durations         []float64 `json:"durations"`
	Raw               []float64 `json:"raw"`
	EffectiveDuration float64   `json:"effective_duration"`

	Warnings []errors.Warning `json:"warnings,omitempty"`
}

// The outcome of walking a bond through a rate scenario to a horizon
type ScenarioReport struct {
	HorizonDate    int            `json:"horizon_date"`
	Cap0           float64        `json:"cap0"`
	Value0         float64        `json:"value0"`
	Accrued0       float64        `json:"accrued0"`
	Interest       float64        `json:"interest"`
	Principal      float64        `json:"principal"`
	IntOnInt       float64        `json:"int_on_int"`
	Cap1           float64        `json:"cap1"`
	Value1         float64        `json:"value1"`
	Accrued1       float64        `json:"accrued1"`
	TotalReturn    float64        `json:"total_return"`
	AnnualReturn   float64        `json:"annual_return"`
	RedemptionType RedemptionType `json:"redemption_type"`
	RedemptionDate int            `json:"redemption_date,omitempty"`
	Duration       float64        `json:"duration"`
	Convexity      float64        `json:"convexity"`

	Warnings []errors.Warning `json:"warnings,omitempty"`
}

// Descriptive parameters of a calibrated lattice
type TreeInfo struct {
	Handle         uint64  `json:"handle"`
	Steps          int     `json:"steps"`
	Dt             float64 `json:"dt"`
	Horizon        float64 `json:"horizon"`
	Volatility     float64 `json:"volatility"`
	MeanReversion  float64 `json:"mean_reversion"`
	LongVolatility float64 `json:"long_volatility"`
	MinRate        float64 `json:"min_rate"`
	SpotShift      float64 `json:"spot_shift"`
}

// Par curves seen at forward times: Rates[i][k] is the par rate at
// Maturities[k] as of Times[i]
type ForwardReport struct {
	Times      []float64   `json:"times"`
	Maturities []float64   `json:"maturities"`
	Rates      [][]float64 `json:"rates"`
}

// The term structure of yield volatility implied by a lattice
type VolReport struct {
	MeanReversion float64   `json:"mean_reversion"`
	Maturities    []float64 `json:"maturities"`
	Volatilities  []float64 `json:"volatilities"`
}
