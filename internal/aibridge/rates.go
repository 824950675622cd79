package aibridge

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/trips"
)

// LiveRates builds a rate table into home by asking for each currency's rate
// concurrently. Currencies whose lookup fails keep their rate from fallback,
// and the joined lookup errors are returned alongside the table.
func (b *Bridge) LiveRates(ctx context.Context, home trips.CurrencyCode, currencies []trips.CurrencyCode, fallback trips.RateTable) (trips.RateTable, error) {
	rates := make(trips.RateTable, len(currencies)+1)
	rates[home] = decimal.NewFromInt(1)

	var (
		mu    sync.Mutex
		errs  []error
		group errgroup.Group
		seen  = map[trips.CurrencyCode]bool{home: true}
	)
	for _, currency := range currencies {
		if seen[currency] {
			continue
		}
		seen[currency] = true
		group.Go(func() error {
			rate, err := b.ExchangeRate(ctx, currency.ISO(), home.ISO())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rates[currency] = fallback.Rate(currency)
				errs = append(errs, err)
				return nil
			}
			rates[currency] = rate
			return nil
		})
	}
	_ = group.Wait()
	return rates, errors.Join(errs...)
}
