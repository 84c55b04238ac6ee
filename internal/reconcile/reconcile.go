// Package reconcile projects remaining debt out of a frozen baseline and
// the payments recorded against it. It is recomputed on every read and
// never mutates the baseline.
package reconcile

import "github.com/shopspring/decimal"

// Baseline is the frozen owed snapshot for one apartment and month, written
// once at publish time. Exists distinguishes a published zero-debt row from
// a month with nothing published at all.
type Baseline struct {
	Restante           decimal.Decimal
	CurrentMaintenance decimal.Decimal
	Penalitati         decimal.Decimal
	Exists             bool
}

// Payments holds the per-category sums of recorded receipts. Receipts are
// split by category when recorded; nothing is inferred here.
type Payments struct {
	Restante    decimal.Decimal
	Intretinere decimal.Decimal
	Penalitati  decimal.Decimal
}

// Add accumulates another receipt split into the totals.
func (p Payments) Add(restante, intretinere, penalitati decimal.Decimal) Payments {
	return Payments{
		Restante:    p.Restante.Add(restante),
		Intretinere: p.Intretinere.Add(intretinere),
		Penalitati:  p.Penalitati.Add(penalitati),
	}
}

// Total sums all categories.
func (p Payments) Total() decimal.Decimal {
	return p.Restante.Add(p.Intretinere).Add(p.Penalitati)
}

// RemainingDebt is the reconciled view shown to operators.
type RemainingDebt struct {
	Restante    decimal.Decimal `json:"restante"`
	Intretinere decimal.Decimal `json:"intretinere"`
	Penalitati  decimal.Decimal `json:"penalitati"`
	Total       decimal.Decimal `json:"total"`

	TotalPaid decimal.Decimal `json:"total_paid"`
	// Overpaid reports category surplus beyond the owed amounts. The
	// surplus is informational only; it never becomes a credit.
	Overpaid decimal.Decimal `json:"overpaid"`

	IsPaid          bool `json:"is_paid"`
	IsPartiallyPaid bool `json:"is_partially_paid"`
	IsUnpaid        bool `json:"is_unpaid"`

	// NoBaseline marks an apartment/month with no published sheet.
	// Operators see "nothing published yet", not an error.
	NoBaseline bool `json:"no_baseline"`
}

// Reconcile subtracts paid from owed per category, clamping at zero.
// Idempotent: same inputs, same output, no side effects.
func Reconcile(b Baseline, p Payments) RemainingDebt {
	if !b.Exists {
		return RemainingDebt{
			Restante:    decimal.Zero,
			Intretinere: decimal.Zero,
			Penalitati:  decimal.Zero,
			Total:       decimal.Zero,
			TotalPaid:   p.Total(),
			Overpaid:    decimal.Zero,
			IsUnpaid:    p.Total().IsZero(),
			NoBaseline:  true,
		}
	}

	remaining := RemainingDebt{
		Restante:    clampZero(b.Restante.Sub(p.Restante)),
		Intretinere: clampZero(b.CurrentMaintenance.Sub(p.Intretinere)),
		Penalitati:  clampZero(b.Penalitati.Sub(p.Penalitati)),
		TotalPaid:   p.Total(),
	}
	remaining.Total = remaining.Restante.Add(remaining.Intretinere).Add(remaining.Penalitati)
	remaining.Overpaid = clampZero(p.Restante.Sub(b.Restante)).
		Add(clampZero(p.Intretinere.Sub(b.CurrentMaintenance))).
		Add(clampZero(p.Penalitati.Sub(b.Penalitati)))

	remaining.IsPaid = remaining.Total.IsZero()
	remaining.IsPartiallyPaid = remaining.TotalPaid.IsPositive() && remaining.Total.IsPositive()
	remaining.IsUnpaid = remaining.TotalPaid.IsZero()
	return remaining
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
