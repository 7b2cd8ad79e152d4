/**
 * @description
 * Fee and FX quoting. Rates are decimals used only as multipliers; every
 * amount that leaves this package is an integer number of minor units, floored.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact decimal arithmetic for rates and percentages.
 */

package fees

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
)

const (
	sameBankFeeCap       = 1000
	localFlatFee         = 1500
	internationalFlatFee = 7500
)

var (
	sameBankRate      = decimal.RequireFromString("0.002")
	localRate         = decimal.RequireFromString("0.003")
	internationalRate = decimal.RequireFromString("0.005")
	maxConverted      = decimal.NewFromInt(math.MaxInt64)
)

// DefaultRates is the built-in table keyed by "SOURCE->TARGET".
func DefaultRates() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"ZAR->USD": decimal.RequireFromString("0.055"),
		"USD->ZAR": decimal.RequireFromString("18.20"),
		"ZAR->EUR": decimal.RequireFromString("0.050"),
		"EUR->ZAR": decimal.RequireFromString("20.00"),
		"ZAR->GBP": decimal.RequireFromString("0.043"),
		"GBP->ZAR": decimal.RequireFromString("23.30"),
		"USD->EUR": decimal.RequireFromString("0.92"),
		"EUR->USD": decimal.RequireFromString("1.09"),
		"USD->GBP": decimal.RequireFromString("0.79"),
		"GBP->USD": decimal.RequireFromString("1.27"),
	}
}

// Quote is the result of pricing a transfer.
type Quote struct {
	Kind            domain.TransferKind
	Amount          int64
	Fee             int64
	Rate            decimal.Decimal
	SourceCurrency  string
	TargetCurrency  string
	ConvertedAmount int64
}

// FX returns the conversion block stored on international transfers.
func (q Quote) FX() *domain.FX {
	return &domain.FX{
		Rate:            q.Rate,
		SourceCurrency:  q.SourceCurrency,
		TargetCurrency:  q.TargetCurrency,
		ConvertedAmount: q.ConvertedAmount,
	}
}

// Calculator prices transfers. It is immutable after construction and safe
// for concurrent use.
type Calculator struct {
	rates map[string]decimal.Decimal
}

// NewCalculator builds a calculator from the default table with overrides
// applied on top.
func NewCalculator(overrides map[string]decimal.Decimal) *Calculator {
	rates := DefaultRates()
	for pair, rate := range overrides {
		rates[pair] = rate
	}
	return &Calculator{rates: rates}
}

// Fee returns the fee in minor units for kind and amount.
func Fee(kind domain.TransferKind, amount int64) (int64, error) {
	if amount <= 0 || amount > domain.MaxAmount {
		return 0, domain.ErrInvalidAmount
	}
	a := decimal.NewFromInt(amount)
	switch kind {
	case domain.KindSameBank:
		fee := a.Mul(sameBankRate).Floor().IntPart()
		if fee > sameBankFeeCap {
			fee = sameBankFeeCap
		}
		return fee, nil
	case domain.KindLocal:
		return localFlatFee + a.Mul(localRate).Floor().IntPart(), nil
	case domain.KindInternational:
		return internationalFlatFee + a.Mul(internationalRate).Floor().IntPart(), nil
	case domain.KindPurchase:
		return 0, nil
	default:
		return 0, domain.ErrUnsupportedKind
	}
}

// Rate looks up source->target. Identical currencies always convert at 1.
func (c *Calculator) Rate(source, target string) (decimal.Decimal, error) {
	source = strings.ToUpper(source)
	target = strings.ToUpper(target)
	if source == target {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := c.rates[pairKey(source, target)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrUnsupportedFxPair, pairKey(source, target))
	}
	return rate, nil
}

// Quote computes the fee and, for international transfers, the conversion.
// Domestic kinds settle in the source currency, so a differing target is
// rejected as an unsupported pair.
func (c *Calculator) Quote(kind domain.TransferKind, amount int64, source, target string) (Quote, error) {
	source = strings.ToUpper(strings.TrimSpace(source))
	target = strings.ToUpper(strings.TrimSpace(target))

	fee, err := Fee(kind, amount)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{
		Kind:            kind,
		Amount:          amount,
		Fee:             fee,
		Rate:            decimal.NewFromInt(1),
		SourceCurrency:  source,
		TargetCurrency:  source,
		ConvertedAmount: amount,
	}

	if kind != domain.KindInternational {
		if target != "" && target != source {
			return Quote{}, fmt.Errorf("%w: %s transfers settle in %s", domain.ErrUnsupportedFxPair, kind, source)
		}
		return q, nil
	}

	if target == "" {
		return Quote{}, domain.ErrTargetCurrencyRequired
	}
	rate, err := c.Rate(source, target)
	if err != nil {
		return Quote{}, err
	}
	q.Rate = rate
	q.TargetCurrency = target
	converted := decimal.NewFromInt(amount).Mul(rate).Floor()
	if converted.GreaterThan(maxConverted) {
		return Quote{}, fmt.Errorf("%w: converted amount out of range", domain.ErrInvalidAmount)
	}
	q.ConvertedAmount = converted.IntPart()
	return q, nil
}

func pairKey(source, target string) string {
	return source + "->" + target
}
