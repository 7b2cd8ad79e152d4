package fees

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseRates reads overrides of the form "ZAR->USD=0.055,USD->ZAR=18.2".
// An empty string yields no overrides.
func ParseRates(raw string) (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pair, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("fx rate %q: expected PAIR=RATE", entry)
		}
		source, target, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(pair)), "->")
		if !ok || len(source) != 3 || len(target) != 3 {
			return nil, fmt.Errorf("fx rate %q: pair must look like ZAR->USD", entry)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("fx rate %q: %w", entry, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("fx rate %q: rate must be positive", entry)
		}
		rates[pairKey(source, target)] = rate
	}
	return rates, nil
}
