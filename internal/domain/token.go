// Package domain defines core data structures used throughout the analyzer.
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TokenInfo describes a token as reported by the mirror node.
// Immutable once fetched; Decimals drives all raw-unit conversions.
type TokenInfo struct {
	// ID token identifier, e.g. "0.0.123456".
	ID string `json:"id"`
	// Name human-readable token name.
	Name string `json:"name"`
	// Symbol ticker symbol.
	Symbol string `json:"symbol"`
	// Decimals number of decimal places in raw integer amounts.
	Decimals int32 `json:"decimals"`
	// TreasuryAccount the token's issuing account.
	TreasuryAccount string `json:"treasury_account,omitempty"`
}

// String returns a human-readable string representation.
func (t TokenInfo) String() string {
	return fmt.Sprintf("%s (%s, decimals=%d)", t.Name, t.Symbol, t.Decimals)
}

// ToDisplayUnits converts a raw integer amount to display units (raw / 10^decimals).
func (t TokenInfo) ToDisplayUnits(raw int64) decimal.Decimal {
	return decimal.New(raw, -t.Decimals)
}
