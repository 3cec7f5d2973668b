package marketplace

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// SettlementAsset is the only token purchases settle in. Its mint comes from configuration.
const SettlementAsset = "USDC"

// NormalizeCurrency maps accepted currency spellings onto SettlementAsset.
// Unsupported codes come back upper-cased and unchanged.
func NormalizeCurrency(c string) string {
	switch u := strings.ToUpper(strings.TrimSpace(c)); u {
	case "USDC", "USD", "":
		return SettlementAsset
	default:
		return u
	}
}

// AssetDecimals returns the smallest-unit precision for a supported asset code.
func AssetDecimals(asset string) (int, bool) {
	if NormalizeCurrency(asset) == SettlementAsset {
		return 6, true
	}
	return 0, false
}

// ParseUnits converts a decimal price string into integer smallest units.
// Accepts "$0.02", "0.02 USDC" and "0.02". Fractions finer than decimals are rejected.
func ParseUnits(price string, decimals int) (uint64, error) {
	s := strings.TrimSpace(price)
	s = strings.TrimPrefix(s, "$")
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return 0, eris.Errorf("invalid price %q", price)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return 0, eris.Errorf("price %q has more than %d decimal places", price, decimals)
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, eris.Errorf("invalid price %q", price)
		}
	}

	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid price %q", price)
	}
	frac += strings.Repeat("0", decimals-len(frac))
	var f uint64
	if frac != "" {
		if f, err = strconv.ParseUint(frac, 10, 64); err != nil {
			return 0, eris.Wrapf(err, "invalid price %q", price)
		}
	}

	scale := uint64(math.Pow10(decimals))
	if w > (math.MaxUint64-f)/scale {
		return 0, eris.Errorf("price %q overflows", price)
	}
	return w*scale + f, nil
}

// FormatUnits renders smallest units back into a trimmed decimal string.
func FormatUnits(units uint64, decimals int) string {
	scale := uint64(math.Pow10(decimals))
	whole := strconv.FormatUint(units/scale, 10)
	if decimals == 0 {
		return whole
	}
	frac := strconv.FormatUint(units%scale, 10)
	frac = strings.Repeat("0", decimals-len(frac)) + frac
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// PriceUnits parses a service's advertised price in its asset's smallest units.
func (p Pricing) PriceUnits() (uint64, error) {
	dec, ok := AssetDecimals(p.Currency)
	if !ok {
		return 0, eris.Errorf("unsupported currency %q", p.Currency)
	}
	return ParseUnits(p.Amount, dec)
}

// NormalizeCapability lowercases and trims a capability tag.
func NormalizeCapability(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// NormalizeCapabilities trims, lowercases and de-duplicates tags, dropping empties.
func NormalizeCapabilities(caps []string) []string {
	out := make([]string, 0, len(caps))
	seen := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		c = NormalizeCapability(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
