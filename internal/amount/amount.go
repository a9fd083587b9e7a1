// Package amount converts token amounts between human-readable decimal
// strings and integer base units. All arithmetic is arbitrary precision.
package amount

import (
	"fmt"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/shopspring/decimal"
)

// UnsetDecimals marks a token whose decimals are not known yet.
const UnsetDecimals = -1

var decimalPattern = regexp.MustCompile(`^([0-9]+(\.[0-9]*)?|\.[0-9]+)$`)

var hundred = decimal.NewFromInt(100)

// ToBaseUnits multiplies human by 10^decimals and floors any sub-unit remainder.
func ToBaseUnits(decimals int, human string) (string, error) {
	if decimals < 0 {
		return "", clierr.New(clierr.CodeInvalidAmount, "token decimals are unknown")
	}
	clean := strings.TrimSpace(human)
	if !decimalPattern.MatchString(clean) {
		return "", clierr.New(clierr.CodeInvalidAmount, fmt.Sprintf("invalid amount %q: expected a non-negative decimal like 1.23", human))
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInvalidAmount, "parse amount", err)
	}
	return d.Shift(int32(decimals)).Floor().BigInt().String(), nil
}

// ToHumanUnits divides base by 10^decimals. It returns "" when either input
// is unset so callers can tell "unknown" apart from zero.
func ToHumanUnits(decimals int, base string) string {
	clean := strings.TrimSpace(base)
	if decimals < 0 || clean == "" {
		return ""
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return ""
	}
	return d.Floor().Shift(int32(-decimals)).String()
}

// ApplySlippageDown scales amount by (100 - slippagePct) / 100.
func ApplySlippageDown(amount string, slippagePct float64) string {
	return applySlippage(amount, -slippagePct)
}

// ApplySlippageUp scales amount by (100 + slippagePct) / 100.
func ApplySlippageUp(amount string, slippagePct float64) string {
	return applySlippage(amount, slippagePct)
}

func applySlippage(amount string, signedPct float64) string {
	if signedPct == 0 || strings.TrimSpace(amount) == "" {
		return amount
	}
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return amount
	}
	factor := hundred.Add(decimal.NewFromFloat(signedPct)).Div(hundred)
	out := d.Mul(factor)
	// integer inputs are base units and stay integral
	if !strings.Contains(amount, ".") {
		out = out.Floor()
	}
	return out.String()
}

// Parse returns the decimal value of a base-unit or human amount string.
// Empty or invalid input parses as zero with ok=false.
func Parse(v string) (decimal.Decimal, bool) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// IsPositive reports whether v parses to a value greater than zero.
func IsPositive(v string) bool {
	d, ok := Parse(v)
	return ok && d.IsPositive()
}

// PercentDiff returns (a/b - 1) * 100 rounded to two places, or "" when
// either side is missing or b is zero.
func PercentDiff(a, b string) string {
	x, okA := Parse(a)
	y, okB := Parse(b)
	if !okA || !okB || y.IsZero() {
		return ""
	}
	return x.Div(y).Sub(decimal.NewFromInt(1)).Mul(hundred).StringFixed(2)
}

// USDValue returns base * usdPrice / 10^decimals as a float for reporting.
func USDValue(base string, decimals int, usdPrice string) float64 {
	amt, ok := Parse(base)
	if !ok || decimals < 0 {
		return 0
	}
	price, ok := Parse(usdPrice)
	if !ok {
		return 0
	}
	v, _ := amt.Mul(price).Shift(int32(-decimals)).Float64()
	return v
}

// FormatDisplay truncates a human amount to places fractional digits and
// inserts thousands separators.
func FormatDisplay(human string, places int) string {
	d, ok := Parse(human)
	if !ok {
		return human
	}
	s := d.Truncate(int32(places)).String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := sign + b.String()
	if hasFrac {
		out += "." + fracPart
	}
	return out
}
