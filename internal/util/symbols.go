package util

import "strings"

// quoteSuffixes are the exchange quote assets recognized on pair symbols,
// longest first so "BUSD" wins over "USD".
var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "USD"}

// ToAlpacaSymbol converts an exchange pair like "BTCUSDT" to Alpaca's crypto
// notation "BTC/USD". Symbols without a recognized quote suffix pass through
// unchanged, which covers US equity tickers.
func ToAlpacaSymbol(pair string) string {
	for _, quote := range quoteSuffixes {
		if base, ok := strings.CutSuffix(pair, quote); ok && base != "" {
			return base + "/USD"
		}
	}
	return pair
}

// FromAlpacaSymbol is the inverse of ToAlpacaSymbol, mapping "BTC/USD" back
// to the "BTCUSDT" form used across the rest of the system.
func FromAlpacaSymbol(symbol string) string {
	base, ok := strings.CutSuffix(symbol, "/USD")
	if !ok {
		return symbol
	}
	return base + "USDT"
}
