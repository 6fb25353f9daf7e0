package types

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// EtherDecimals is the wei precision shared by every EVM native asset. Gas
// prices and fees are rendered at this precision regardless of the asset
// being transferred.
const EtherDecimals = 18

var ten = big.NewInt(10)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// FormatUnits renders raw base units as an exact decimal string with the
// given precision, with trailing fractional zeros trimmed: 2*10^18 at 18
// decimals renders as "2", 5*10^17 as "0.5".
func FormatUnits(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0"
	}
	if decimals <= 0 {
		return raw.String()
	}
	abs := new(big.Int).Abs(raw)
	quo, rem := new(big.Int).QuoRem(abs, pow10(decimals), new(big.Int))

	sign := ""
	if raw.Sign() < 0 {
		sign = "-"
	}
	if rem.Sign() == 0 {
		return sign + quo.String()
	}
	frac := rem.String()
	if pad := decimals - len(frac); pad > 0 {
		frac = strings.Repeat("0", pad) + frac
	}
	frac = strings.TrimRight(frac, "0")
	return sign + quo.String() + "." + frac
}

// CanonicalDecimal trims the scale padding Postgres NUMERIC columns add on
// read, so "2.000000000000000000" round-trips back to "2". Values without a
// fractional part pass through untouched.
func CanonicalDecimal(s string) string {
	if !strings.ContainsRune(s, '.') {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// ParseUnits converts an exact decimal string into base units at the given
// precision. It rejects values with more fractional digits than the
// precision can represent, so configuration mistakes surface instead of
// silently rounding.
func ParseUnits(value string, decimals int) (*big.Int, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return nil, errors.New("empty decimal value")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return nil, errors.Errorf("malformed decimal value %q", value)
	}
	if len(fracPart) > decimals {
		trimmed := strings.TrimRight(fracPart, "0")
		if len(trimmed) > decimals {
			return nil, errors.Errorf("value %q has more than %d decimal places", value, decimals)
		}
		fracPart = trimmed
	}
	if intPart == "" {
		intPart = "0"
	}

	digits := intPart + fracPart + strings.Repeat("0", decimals-len(fracPart))
	out, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, errors.Errorf("malformed decimal value %q", value)
	}
	if neg {
		out.Neg(out)
	}
	return out, nil
}
