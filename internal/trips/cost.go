package trips

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyCode identifies a currency recognised in free-form cost text.
type CurrencyCode string

const (
	CurrencyYEN CurrencyCode = "YEN"
	CurrencyUSD CurrencyCode = "USD"
	CurrencyEUR CurrencyCode = "EUR"
	CurrencySGD CurrencyCode = "SGD"
	// CurrencyKRW is the fallback when no marker matches.
	CurrencyKRW CurrencyCode = "KRW"
)

// ISO returns the ISO 4217 code used when asking for exchange rates.
func (code CurrencyCode) ISO() string {
	if code == CurrencyYEN {
		return "JPY"
	}
	return string(code)
}

// ParseCurrencyCode accepts either the internal code or its ISO form, case-insensitively.
func ParseCurrencyCode(rawInput string) (CurrencyCode, bool) {
	switch strings.ToUpper(strings.TrimSpace(rawInput)) {
	case "YEN", "JPY":
		return CurrencyYEN, true
	case "USD":
		return CurrencyUSD, true
	case "EUR":
		return CurrencyEUR, true
	case "SGD":
		return CurrencySGD, true
	case "KRW":
		return CurrencyKRW, true
	default:
		return "", false
	}
}

// currencyMarkers is checked in order; the first currency with a matching substring wins.
var currencyMarkers = []struct {
	code    CurrencyCode
	markers []string
}{
	{code: CurrencyYEN, markers: []string{"yen", "jpy", "¥", "円"}},
	{code: CurrencyUSD, markers: []string{"usd", "$"}},
	{code: CurrencyEUR, markers: []string{"eur", "€"}},
	{code: CurrencySGD, markers: []string{"sgd"}},
}

var (
	nonNumericPattern     = regexp.MustCompile(`[^0-9.]`)
	leadingDecimalPattern = regexp.MustCompile(`^[0-9]*(\.[0-9]*)?`)
)

// ParsedCost is the amount and currency inferred from a cost string.
type ParsedCost struct {
	Amount   decimal.Decimal
	Currency CurrencyCode
}

// ParseCost reads free-form cost text such as "1,750 yen" or "$12.50".
// Unparseable input yields a zero amount in KRW rather than an error.
func ParseCost(costText string) ParsedCost {
	lowered := strings.ToLower(costText)
	return ParsedCost{
		Amount:   parseAmount(lowered),
		Currency: inferCurrency(lowered),
	}
}

func parseAmount(lowered string) decimal.Decimal {
	digits := nonNumericPattern.ReplaceAllString(lowered, "")
	// Only the leading well-formed number counts: "1.2.3" reads as 1.2.
	number := strings.TrimSuffix(leadingDecimalPattern.FindString(digits), ".")
	if number == "" {
		return decimal.Zero
	}
	if strings.HasPrefix(number, ".") {
		number = "0" + number
	}
	amount, err := decimal.NewFromString(number)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

func inferCurrency(lowered string) CurrencyCode {
	for _, candidate := range currencyMarkers {
		for _, marker := range candidate.markers {
			if strings.Contains(lowered, marker) {
				return candidate.code
			}
		}
	}
	return CurrencyKRW
}
