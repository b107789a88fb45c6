package sample

import (
	"strings"
	"time"
)

// Role distinguishes the two legs of the tracked pair.
type Role string

const (
	// RoleReference is the asset whose move is netted out (e.g. BTC).
	RoleReference Role = "reference"
	// RoleTracked is the asset whose idiosyncratic move is measured (e.g. ETH).
	RoleTracked Role = "tracked"
)

// Asset identifies one leg of the pair.
type Asset struct {
	Role   Role
	Symbol string
}

// NewAsset normalises the symbol to the lowercase form used in stream names.
func NewAsset(role Role, symbol string) Asset {
	return Asset{Role: role, Symbol: strings.ToLower(strings.TrimSpace(symbol))}
}

func (a Asset) String() string {
	return string(a.Role) + ":" + a.Symbol
}

// PriceSample is a single decoded trade.
type PriceSample struct {
	Asset Asset
	// TradeTime is the exchange-supplied trade time, not the receipt time.
	TradeTime time.Time
	Price     float64
}

// PairedObservation holds one sample of each asset captured in the same cycle.
type PairedObservation struct {
	Reference PriceSample
	Tracked   PriceSample
}
