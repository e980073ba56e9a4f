package commission_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/offerlink/commission-engine/commission"
	"github.com/offerlink/commission-engine/ledger"
)

func pct(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeEarnings(t *testing.T) {
	cases := []struct {
		name   string
		order  int64
		pct    string
		expect int64
	}{
		{"whole split", 10000, "25", 2500},
		{"exact cents", 100, "33", 33},
		{"rounds half up", 50, "33", 17}, // 16.5 -> 17
		{"rounds down below half", 100, "33.4", 33},
		{"fractional percent", 10000, "7.5", 750},
		{"full order", 10000, "100", 10000},
		{"zero percent", 10000, "0", 0},
		{"one cent order", 1, "20", 0}, // 0.2 -> 0
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := commission.ComputeEarnings(ledger.Cents(tc.order), pct(tc.pct))
			assert.Equal(t, ledger.Cents(tc.expect), got)
		})
	}
}

func TestSplitPolicy_Resolve(t *testing.T) {
	// GIVEN: An offer without an explicit split
	// WHEN: Resolving the rate
	// THEN: The platform default applies

	policy := commission.SplitPolicy{}
	assert.True(t, commission.DefaultSplitPct.Equal(policy.Resolve(&commission.Offer{ID: "offer-1"})))

	// Offer-level override wins.
	override := pct("35")
	got := policy.Resolve(&commission.Offer{ID: "offer-2", SplitPct: &override})
	assert.True(t, override.Equal(got))

	// Policy-level default overrides the platform default.
	custom := commission.SplitPolicy{DefaultPct: pct("12.5")}
	assert.True(t, pct("12.5").Equal(custom.Resolve(&commission.Offer{ID: "offer-3"})))
}
