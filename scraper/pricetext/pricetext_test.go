package pricetext

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw      string
		amount   string
		currency string
	}{
		{"$120", "120", "USD"},
		{"$1,200.50", "1200.50", "USD"},
		{"USD 99", "99", "USD"},
		{"12,75€", "12.75", "EUR"},
		{"€1.234,50", "1234.50", "EUR"},
		{"£80.00", "80", "GBP"},
		{"R$ 50,00", "50", "BRL"},
		{"Rp 1.000.000", "1000000", "IDR"},
		{"1 234,50 руб.", "1234.50", "RUB"},
		{"¥ 300", "300", "CNY"},
		{"3,500", "3500", ""},
		{"  42 eur ", "42", "EUR"},
		{"Starting at $0.03", "0.03", "USD"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			amount, currency, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Truef(t, decimal.RequireFromString(tt.amount).Equal(amount), "amount: got %s, want %s", amount, tt.amount)
			assert.Equal(t, tt.currency, currency)
		})
	}
}

func TestParseRejectsTextWithoutNumber(t *testing.T) {
	for _, raw := range []string{"", "   ", "free", "N/A", "$"} {
		_, _, err := Parse(raw)
		assert.ErrorIs(t, err, ErrNoPrice, raw)
	}
}

func TestCurrencyPrefersISOCode(t *testing.T) {
	assert.Equal(t, "CNY", Currency("¥ 300 CNY"))
	assert.Equal(t, "BRL", Currency("R$ 10"))
	assert.Equal(t, "", Currency("10"))
}
