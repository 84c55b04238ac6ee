package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func baseline(restante, maintenance, penalitati string) Baseline {
	return Baseline{
		Restante:           dec(restante),
		CurrentMaintenance: dec(maintenance),
		Penalitati:         dec(penalitati),
		Exists:             true,
	}
}

func TestPartialPayment(t *testing.T) {
	// Owed {50, 200, 10}; one receipt {50, 100, 0}.
	b := baseline("50", "200", "10")
	p := Payments{}.Add(dec("50"), dec("100"), dec("0"))

	got := Reconcile(b, p)
	require.True(t, got.Restante.IsZero())
	require.True(t, got.Intretinere.Equal(dec("100")))
	require.True(t, got.Penalitati.Equal(dec("10")))
	require.True(t, got.Total.Equal(dec("110")))
	require.True(t, got.IsPartiallyPaid)
	require.False(t, got.IsPaid)
	require.False(t, got.IsUnpaid)
}

func TestSecondReceiptSettles(t *testing.T) {
	b := baseline("50", "200", "10")
	p := Payments{}.
		Add(dec("50"), dec("100"), dec("0")).
		Add(dec("0"), dec("100"), dec("10"))

	got := Reconcile(b, p)
	require.True(t, got.Total.IsZero())
	require.True(t, got.IsPaid)
	require.False(t, got.IsPartiallyPaid)
	require.False(t, got.IsUnpaid)
}

func TestUnpaid(t *testing.T) {
	got := Reconcile(baseline("50", "200", "10"), Payments{})
	require.True(t, got.IsUnpaid)
	require.False(t, got.IsPaid)
	require.True(t, got.Total.Equal(dec("260")))
}

func TestOverpaymentClampsAtZero(t *testing.T) {
	b := baseline("50", "200", "10")
	p := Payments{}.Add(dec("80"), dec("250"), dec("10"))

	got := Reconcile(b, p)
	require.True(t, got.Restante.IsZero())
	require.True(t, got.Intretinere.IsZero())
	require.True(t, got.Penalitati.IsZero())
	require.True(t, got.IsPaid)
	require.True(t, got.Overpaid.Equal(dec("80")))
}

func TestReconcileIsIdempotent(t *testing.T) {
	b := baseline("12.34", "567.89", "0.01")
	p := Payments{}.Add(dec("12.34"), dec("100"), dec("0"))

	first := Reconcile(b, p)
	second := Reconcile(b, p)
	require.Equal(t, first, second)
}

func TestRemainingNeverNegative(t *testing.T) {
	cases := []struct{ owed, paid string }{
		{"0", "0"}, {"0", "10"}, {"10", "0"}, {"10", "10"}, {"10", "99.99"},
	}
	for _, tc := range cases {
		b := baseline(tc.owed, tc.owed, tc.owed)
		p := Payments{}.Add(dec(tc.paid), dec(tc.paid), dec(tc.paid))
		got := Reconcile(b, p)
		require.False(t, got.Restante.IsNegative())
		require.False(t, got.Intretinere.IsNegative())
		require.False(t, got.Penalitati.IsNegative())
		require.False(t, got.Total.IsNegative())
	}
}

func TestNoBaseline(t *testing.T) {
	got := Reconcile(Baseline{}, Payments{})
	require.True(t, got.NoBaseline)
	require.True(t, got.Total.IsZero())
	require.True(t, got.IsUnpaid)
}

func TestPaymentsDoNotMutateBaseline(t *testing.T) {
	b := baseline("50", "200", "10")
	_ = Reconcile(b, Payments{}.Add(dec("50"), dec("200"), dec("10")))
	require.True(t, b.Restante.Equal(dec("50")))
	require.True(t, b.CurrentMaintenance.Equal(dec("200")))
	require.True(t, b.Penalitati.Equal(dec("10")))
}
