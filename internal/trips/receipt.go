package trips

import "github.com/shopspring/decimal"

// RateTable maps a currency to its value in the home currency.
type RateTable map[CurrencyCode]decimal.Decimal

// DefaultRates returns the static KRW-based table used when no live rates are requested.
func DefaultRates() RateTable {
	return RateTable{
		CurrencyYEN: decimal.RequireFromString("9.2"),
		CurrencyUSD: decimal.NewFromInt(1350),
		CurrencyEUR: decimal.NewFromInt(1450),
		CurrencySGD: decimal.NewFromInt(1010),
		CurrencyKRW: decimal.NewFromInt(1),
	}
}

// Rate returns the multiplier for code, or 1 when the table has no entry.
func (rates RateTable) Rate(code CurrencyCode) decimal.Decimal {
	if rate, ok := rates[code]; ok {
		return rate
	}
	return decimal.NewFromInt(1)
}

// Rebase re-expresses the table so that home has rate 1.
func (rates RateTable) Rebase(home CurrencyCode) RateTable {
	divisor := rates.Rate(home)
	rebased := make(RateTable, len(rates)+1)
	if divisor.IsZero() {
		for code, rate := range rates {
			rebased[code] = rate
		}
		return rebased
	}
	for code, rate := range rates {
		rebased[code] = rate.Div(divisor)
	}
	rebased[home] = decimal.NewFromInt(1)
	return rebased
}

// ReceiptLine is one place's contribution to the receipt.
type ReceiptLine struct {
	PlaceID   PlaceID         `json:"place_id"`
	Name      string          `json:"name"`
	Cost      string          `json:"cost"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  CurrencyCode    `json:"currency"`
	Converted decimal.Decimal `json:"converted"`
}

// Receipt aggregates every place cost into the home currency.
type Receipt struct {
	Home  CurrencyCode  `json:"home"`
	Lines []ReceiptLine `json:"lines"`
	Total int64         `json:"total"`
}

// Total converts each place cost with rates and returns the sum rounded to the nearest integer.
func Total(places []Place, rates RateTable) int64 {
	sum := decimal.Zero
	for _, place := range places {
		sum = sum.Add(convert(ParseCost(place.Cost), rates))
	}
	return sum.Round(0).IntPart()
}

// BuildReceipt returns per-place lines alongside the same total Total computes.
func BuildReceipt(places []Place, rates RateTable, home CurrencyCode) Receipt {
	lines := make([]ReceiptLine, 0, len(places))
	for _, place := range places {
		parsed := ParseCost(place.Cost)
		lines = append(lines, ReceiptLine{
			PlaceID:   place.ID,
			Name:      place.Name,
			Cost:      place.Cost,
			Amount:    parsed.Amount,
			Currency:  parsed.Currency,
			Converted: convert(parsed, rates),
		})
	}
	return Receipt{
		Home:  home,
		Lines: lines,
		Total: Total(places, rates),
	}
}

func convert(parsed ParsedCost, rates RateTable) decimal.Decimal {
	return parsed.Amount.Mul(rates.Rate(parsed.Currency))
}
