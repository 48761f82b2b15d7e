package billing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies are charged in whole units by Stripe.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

func exponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return 0
	}
	return -2
}

// MajorUnits converts an amount in the smallest currency unit to a decimal amount.
func MajorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, exponent(currency))
}

// FormatAmount renders amount as "12.50 USD".
func FormatAmount(amount int64, currency string) string {
	if currency == "" {
		currency = "usd"
	}
	places := -exponent(currency)
	return MajorUnits(amount, currency).StringFixed(places) + " " + strings.ToUpper(currency)
}
