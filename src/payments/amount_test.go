package payments

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToPaisa(t *testing.T) {
	cases := map[string]int64{
		"1234.56": 123456,
		"500":     50000,
		"0.01":    1,
		"0":       0,
		"19.999":  2000,
		"10.005":  1001,
		"10.004":  1000,
		"0.1":     10,
	}
	for in, want := range cases {
		assert.Equal(t, want, ToPaisa(decimal.RequireFromString(in)), in)
	}
}
