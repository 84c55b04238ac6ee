package distribution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/blocadmin/blocadmin/internal/expense"
)

func roster3() []Participant {
	return []Participant{
		{ApartmentID: 11, Number: 1, Persons: 1},
		{ApartmentID: 12, Number: 2, Persons: 2},
		{ApartmentID: 13, Number: 3, Persons: 3},
	}
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestPerApartmentSumsExactly(t *testing.T) {
	expenses := []expense.Record{
		{Name: "Curatenie", Rule: expense.RulePerApartment, TotalAmount: dec("100.00")},
	}

	res, err := Distribute(expenses, roster3())
	require.NoError(t, err)

	// Remainder cent goes to the lowest unit number.
	require.True(t, res.Shares[11]["Curatenie"].Equal(dec("33.34")), res.Shares[11]["Curatenie"].String())
	require.True(t, res.Shares[12]["Curatenie"].Equal(dec("33.33")))
	require.True(t, res.Shares[13]["Curatenie"].Equal(dec("33.33")))
	require.True(t, res.GrandTotal().Equal(dec("100.00")))
}

func TestPerApartmentExactSumProperty(t *testing.T) {
	totals := []string{"0.01", "0.10", "1.00", "99.99", "250.07", "1000.01"}
	for _, total := range totals {
		expenses := []expense.Record{{Name: "Lift", Rule: expense.RulePerApartment, TotalAmount: dec(total)}}
		res, err := Distribute(expenses, roster3())
		require.NoError(t, err)
		require.True(t, res.GrandTotal().Equal(dec(total)), "total %s redistributed to %s", total, res.GrandTotal())
	}
}

func TestPerPersonShares(t *testing.T) {
	// 300 across persons [1,2,3] gives shares [50,100,150].
	expenses := []expense.Record{
		{Name: "Gunoi", Rule: expense.RulePerPerson, TotalAmount: dec("300.00")},
	}

	res, err := Distribute(expenses, roster3())
	require.NoError(t, err)
	require.True(t, res.Totals[11].Equal(dec("50.00")))
	require.True(t, res.Totals[12].Equal(dec("100.00")))
	require.True(t, res.Totals[13].Equal(dec("150.00")))
}

func TestPerPersonZeroOccupantApartment(t *testing.T) {
	roster := []Participant{
		{ApartmentID: 11, Number: 1, Persons: 0},
		{ApartmentID: 12, Number: 2, Persons: 2},
	}
	expenses := []expense.Record{
		{Name: "Gunoi", Rule: expense.RulePerPerson, TotalAmount: dec("100.00")},
	}

	res, err := Distribute(expenses, roster)
	require.NoError(t, err)
	require.True(t, res.Totals[11].IsZero())
	require.True(t, res.Totals[12].Equal(dec("100.00")))
	require.Empty(t, res.Anomalies)
}

func TestPerPersonAllEmptyFallsBackToEqualSplit(t *testing.T) {
	roster := []Participant{
		{ApartmentID: 11, Number: 1, Persons: 0},
		{ApartmentID: 12, Number: 2, Persons: 0},
	}
	expenses := []expense.Record{
		{Name: "Gunoi", Rule: expense.RulePerPerson, TotalAmount: dec("100.00")},
	}

	res, err := Distribute(expenses, roster)
	require.NoError(t, err)
	require.True(t, res.Totals[11].Equal(dec("50.00")))
	require.True(t, res.Totals[12].Equal(dec("50.00")))
	require.Len(t, res.Anomalies, 1)
}

func TestPerConsumption(t *testing.T) {
	expenses := []expense.Record{
		{
			Name:      "Apa rece",
			Rule:      expense.RulePerConsumption,
			UnitPrice: dec("9.50"),
			Consumption: map[int64]decimal.Decimal{
				11: dec("3"),
				13: dec("1.5"),
			},
		},
	}

	res, err := Distribute(expenses, roster3())
	require.NoError(t, err)
	require.True(t, res.Totals[11].Equal(dec("28.50")))
	require.True(t, res.Totals[12].IsZero())
	require.True(t, res.Totals[13].Equal(dec("14.25")))

	// The missing reading is flagged but does not block.
	require.Len(t, res.UnreadMeters, 1)
	require.Equal(t, int64(12), res.UnreadMeters[0].ApartmentID)

	// Sum reconciles to unitPrice x total readings.
	require.True(t, res.GrandTotal().Equal(dec("9.50").Mul(dec("4.5"))))
}

func TestIndividualAmountsVerbatim(t *testing.T) {
	expenses := []expense.Record{
		{
			Name: "Reparatie usa",
			Rule: expense.RuleIndividual,
			IndividualAmounts: map[int64]decimal.Decimal{
				12: dec("75.40"),
			},
		},
	}

	res, err := Distribute(expenses, roster3())
	require.NoError(t, err)
	require.True(t, res.Totals[11].IsZero())
	require.True(t, res.Totals[12].Equal(dec("75.40")))
}

func TestExcludedApartmentsDoNotShare(t *testing.T) {
	expenses := []expense.Record{
		{
			Name:        "Curatenie",
			Rule:        expense.RulePerApartment,
			TotalAmount: dec("100.00"),
			Excluded:    map[int64]bool{13: true},
		},
	}

	res, err := Distribute(expenses, roster3())
	require.NoError(t, err)
	require.True(t, res.Totals[11].Equal(dec("50.00")))
	require.True(t, res.Totals[12].Equal(dec("50.00")))
	require.True(t, res.Totals[13].IsZero())
}

func TestInvalidRuleSurfaces(t *testing.T) {
	expenses := []expense.Record{
		{Name: "Gunoi", Rule: "by_floor", TotalAmount: dec("10.00")},
	}

	_, err := Distribute(expenses, roster3())
	require.ErrorIs(t, err, expense.ErrInvalidRule)
}

func TestEmptyRoster(t *testing.T) {
	expenses := []expense.Record{
		{Name: "Curatenie", Rule: expense.RulePerApartment, TotalAmount: dec("100.00")},
	}

	res, err := Distribute(expenses, nil)
	require.NoError(t, err)
	require.Empty(t, res.Shares)
	require.True(t, res.GrandTotal().IsZero())
}
