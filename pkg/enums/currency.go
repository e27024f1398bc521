package enums

// Currency is the ISO currency code orders and transactions settle in.
type Currency string

const (
	CurrencyNGN Currency = "NGN"
	CurrencyGHS Currency = "GHS"
	CurrencyZAR Currency = "ZAR"
	CurrencyUSD Currency = "USD"
)

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the value is a supported currency.
func (c Currency) IsValid() bool {
	switch c {
	case CurrencyNGN, CurrencyGHS, CurrencyZAR, CurrencyUSD:
		return true
	}
	return false
}
