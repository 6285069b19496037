package errors

import "fmt"

// MaxWarnings is the number of warnings a single call reports before the
// overflow marker is appended
const MaxWarnings = 12

// WarningCode identifies a recoverable substitution made by the engine
type WarningCode string

const (
	WarnFrequency            WarningCode = "FREQUENCY"
	WarnDayCount             WarningCode = "DAYCOUNT"
	WarnNonCyclicalCoupon    WarningCode = "NONCYCLICAL_COUPON"
	WarnSinkSumLow           WarningCode = "SINKSUM_LOW"
	WarnSinkSumHigh          WarningCode = "SINKSUM_HIGH"
	WarnSinkTooSoon          WarningCode = "SINK_TOO_SOON"
	WarnSinkUndesignated     WarningCode = "SINK_UNDESIGNATED"
	WarnOutstandingHigh      WarningCode = "OUTSTANDING_HIGH"
	WarnOutstandingLow       WarningCode = "OUTSTANDING_LOW"
	WarnOptionDelay          WarningCode = "OPTION_DELAY"
	WarnPayDay               WarningCode = "PAYDAY"
	WarnYieldMethod          WarningCode = "YIELD_METHOD"
	WarnDurationShiftReduced WarningCode = "DURATION_SHIFT_REDUCED"
	WarnYieldUnavailable     WarningCode = "YIELD_UNAVAILABLE"
	WarnTooMany              WarningCode = "TOOMANY"
)

// Warning is a recoverable condition reported alongside a result
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// String formats the warning
func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Code, w.Message)
}

// Warnings collects the warnings of one call. The zero value is ready to use.
type Warnings struct {
	items    []Warning
	overflow bool
}

// Add appends a warning, marking overflow once MaxWarnings is exceeded
func (w *Warnings) Add(code WarningCode, message string) {
	if len(w.items) >= MaxWarnings {
		w.overflow = true
		return
	}
	w.items = append(w.items, Warning{Code: code, Message: message})
}

// Addf appends a warning with a formatted message
func (w *Warnings) Addf(code WarningCode, format string, args ...interface{}) {
	w.Add(code, fmt.Sprintf(format, args...))
}

// Merge appends every warning in ws
func (w *Warnings) Merge(ws []Warning) {
	for _, item := range ws {
		if item.Code == WarnTooMany {
			w.overflow = true
			continue
		}
		w.Add(item.Code, item.Message)
	}
}

// Len returns the number of collected warnings, excluding the overflow marker
func (w *Warnings) Len() int {
	return len(w.items)
}

// Overflowed reports whether warnings were dropped
func (w *Warnings) Overflowed() bool {
	return w.overflow
}

// Has reports whether a warning with the given code was collected
func (w *Warnings) Has(code WarningCode) bool {
	if code == WarnTooMany {
		return w.overflow
	}
	for _, item := range w.items {
		if item.Code == code {
			return true
		}
	}
	return false
}

// List returns a copy of the warnings with the overflow marker appended when needed
func (w *Warnings) List() []Warning {
	if len(w.items) == 0 && !w.overflow {
		return nil
	}
	out := make([]Warning, len(w.items), len(w.items)+1)
	copy(out, w.items)
	if w.overflow {
		out = append(out, Warning{Code: WarnTooMany, Message: "too many warnings, some were dropped"})
	}
	return out
}
