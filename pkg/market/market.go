package market

import "fmt"

// Status defines the trading status of a pair.
type Status string

const (
	Active Status = "active" // trading enabled
	Halted Status = "halted" // order placement rejected, prices keep ticking
)

// Pair describes a listed carbon-credit instrument quoted in USDT.
type Pair struct {
	Symbol    string  `json:"symbol"`    // "REC/USDT"
	Name      string  `json:"name"`      // "Renewable Energy Certificate"
	Base      string  `json:"base"`      // "REC"
	Quote     string  `json:"quote"`     // "USDT"
	BasePrice float64 `json:"basePrice"` // seed price for the simulators
	Status    Status  `json:"status"`
}

func (p *Pair) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if p.Base == "" || p.Quote == "" {
		return fmt.Errorf("base and quote assets must be specified")
	}
	if p.BasePrice <= 0 {
		return fmt.Errorf("base price must be positive")
	}
	return nil
}

// DefaultPairs returns the demo listing.
func DefaultPairs() []Pair {
	return []Pair{
		{Symbol: "REC/USDT", Name: "Renewable Energy Certificate", Base: "REC", Quote: "USDT", BasePrice: 45.20, Status: Active},
		{Symbol: "TVER/USDT", Name: "Thailand Voluntary Emission Reduction", Base: "TVER", Quote: "USDT", BasePrice: 12.85, Status: Active},
		{Symbol: "I-REC/USDT", Name: "International Renewable Energy Certificate", Base: "I-REC", Quote: "USDT", BasePrice: 38.60, Status: Active},
		{Symbol: "CER/USDT", Name: "Certified Emission Reduction", Base: "CER", Quote: "USDT", BasePrice: 8.45, Status: Active},
		{Symbol: "VCU/USDT", Name: "Verified Carbon Unit", Base: "VCU", Quote: "USDT", BasePrice: 15.30, Status: Active},
	}
}
