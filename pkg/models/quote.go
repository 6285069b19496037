package models

import (
	"fmt"
	"strings"
)

// BadValue is returned in place of any numeric result that could not be computed
const BadValue = -99999.0

// The kind of market quote a valuation is driven by
type QuoteType int

const (
	QuoteOAS QuoteType = iota + 1
	QuotePrice
	QuoteYTM
	QuoteYTC
	QuoteYTP
)

// String returns the quote name
func (q QuoteType) String() string {
	switch q {
	case QuoteOAS:
		return "oas"
	case QuotePrice:
		return "price"
	case QuoteYTM:
		return "ytm"
	case QuoteYTC:
		return "ytc"
	case QuoteYTP:
		return "ytp"
	default:
		return "unknown"
	}
}

// Maps a quote name to its type
func ParseQuoteType(s string) (QuoteType, bool) {
	switch strings.ToLower(s) {
	case "oas":
		return QuoteOAS, true
	case "price":
		return QuotePrice, true
	case "ytm":
		return QuoteYTM, true
	case "ytc":
		return QuoteYTC, true
	case "ytp":
		return QuoteYTP, true
	}
	return 0, false
}

// A market quote: an OAS in basis points, a clean price, or a yield in percent
type Quote struct {
	Type  QuoteType
	Value float64
}

// How a bond leaves the books
type RedemptionType int

const (
	RedemptionNone RedemptionType = iota
	RedemptionMaturity
	RedemptionCall
	RedemptionPut
	RedemptionSink
)

// String returns the redemption name
func (r RedemptionType) String() string {
	switch r {
	case RedemptionMaturity:
		return "maturity"
	case RedemptionCall:
		return "call"
	case RedemptionPut:
		return "put"
	case RedemptionSink:
		return "sink"
	default:
		return "none"
	}
}

// MarshalText encodes the redemption type by name
func (r RedemptionType) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a redemption type by name
func (r *RedemptionType) UnmarshalText(text []byte) error {
	for _, t := range []RedemptionType{RedemptionNone, RedemptionMaturity, RedemptionCall, RedemptionPut, RedemptionSink} {
		if t.String() == string(text) {
			*r = t
			return nil
		}
	}
	return fmt.Errorf("unknown redemption type %q", text)
}
