package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		name   string
		amount Amount
		rate   string
		unit   Amount
		want   Amount
	}{
		{"ten percent of 1000", FromRupees(1000), "10", Rupee, FromRupees(100)},
		{"gst on commission", FromRupees(100), "18", Rupee, FromRupees(18)},
		{"gst on gateway fee rounds up", FromRupees(20), "18", Rupee, FromRupees(4)},
		{"half rounds away from zero", FromRupees(25), "10", Rupee, FromRupees(3)},
		{"below half rounds down", FromRupees(24), "10", Rupee, FromRupees(2)},
		{"paisa precision", FromRupees(20), "18", Paisa, 360},
		{"zero unit falls back to paisa", FromRupees(20), "18", 0, 360},
		{"negative amounts mirror positive", FromRupees(-25), "10", Rupee, FromRupees(-3)},
		{"fractional rate", FromRupees(999), "2.5", Rupee, FromRupees(25)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percent(tt.amount, decimal.RequireFromString(tt.rate), tt.unit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSON(t *testing.T) {
	type payload struct {
		Fee Amount `json:"fee"`
	}

	out, err := json.Marshal(payload{Fee: 123456})
	require.NoError(t, err)
	assert.JSONEq(t, `{"fee":1234.56}`, string(out))

	var in payload
	require.NoError(t, json.Unmarshal([]byte(`{"fee":"99.999"}`), &in))
	assert.Equal(t, Amount(10000), in.Fee)

	require.NoError(t, json.Unmarshal([]byte(`{"fee":500}`), &in))
	assert.Equal(t, FromRupees(500), in.Fee)

	assert.Error(t, json.Unmarshal([]byte(`{"fee":"abc"}`), &in))
}

func TestStringAndSum(t *testing.T) {
	assert.Equal(t, "-12.05", Amount(-1205).String())
	assert.Equal(t, FromRupees(3), Sum(Rupee, Rupee, Rupee))
	assert.Equal(t, Amount(0), Sum())
}
