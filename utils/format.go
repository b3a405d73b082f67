package utils

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
)

// ShortenLargeNumber keeps numbers below 10000 as they are and abbreviates
// larger ones with one decimal: 11100 gives "11.1k", 1e6 gives "1M". The unit
// is picked after rounding, 999950 gives "1M".
func ShortenLargeNumber(value float64) string {
	if math.Abs(value) < 10_000 {
		return humanize.Ftoa(value)
	}

	units := []string{"k", "M", "B"}
	mantissa := value / 1_000
	unit := 0
	for unit < len(units)-1 && math.Abs(roundOne(mantissa)) >= 1_000 {
		mantissa /= 1_000
		unit++
	}
	return humanize.FtoaWithDigits(roundOne(mantissa), 1) + units[unit]
}

// FtoaWithDigits truncates, round first.
func roundOne(v float64) float64 {
	return math.Round(v*10) / 10
}

// FormatNumber rounds value to decimals places. Positive values too small to
// show are rounded up to the smallest step instead of down to zero.
func FormatNumber(value float64, decimals int) float64 {
	if value == 0 {
		return 0
	}
	precision := math.Pow10(decimals)
	threshold := 1 / precision
	if value > 0 && value < threshold {
		return math.Ceil(value*precision) / precision
	}
	return math.Round(value*precision) / precision
}

// FormatAccountBalance renders a token balance the way the account button
// shows it. With a fiat value both amounts are kept short.
func FormatAccountBalance(tokenBalance float64, tokenSymbol string, fiatBalance *float64, fiatSymbol string) string {
	if fiatBalance != nil && *fiatBalance != 0 && fiatSymbol != "" {
		token := humanize.Ftoa(FormatNumber(tokenBalance, 1))
		fiat := ShortenLargeNumber(FormatNumber(*fiatBalance, 0))
		return fmt.Sprintf("%s %s (%s%s)", token, tokenSymbol, fiatSymbol, fiat)
	}

	decimals := 4
	if tokenBalance < 1 {
		decimals = 5
	}
	return fmt.Sprintf("%s %s", humanize.Ftoa(FormatNumber(tokenBalance, decimals)), tokenSymbol)
}

// ShortenAddress gives the checksummed address as 0x1234...abcd.
func ShortenAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}
