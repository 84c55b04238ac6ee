// Package distribution computes each apartment's share of a sheet's
// expenses for the current billing cycle. It is pure: no carry-forward, no
// persistence, no clock.
package distribution

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/blocadmin/blocadmin/internal/expense"
)

// Participant is one apartment in the distribution roster. Order inside the
// roster decides who absorbs remainder cents, so callers pass the roster
// already sorted (block, stair, unit number).
type Participant struct {
	ApartmentID int64
	Number      int
	Persons     int
}

// UnreadMeter flags a consumption expense with no reading for an apartment.
// The apartment owes zero for that expense; publication is where the gap
// becomes blocking.
type UnreadMeter struct {
	Expense     string `json:"expense"`
	ApartmentID int64  `json:"apartment_id"`
}

// Result holds per-apartment amounts per expense plus cycle totals.
type Result struct {
	// Shares maps apartment id to expense name to the allocated amount.
	// Zero allocations are omitted.
	Shares map[int64]map[string]decimal.Decimal
	// Totals maps apartment id to its current-cycle maintenance total.
	Totals map[int64]decimal.Decimal
	// UnreadMeters lists consumption gaps surfaced without blocking.
	UnreadMeters []UnreadMeter
	// Anomalies carries non-blocking distribution warnings, such as a
	// per-person expense over a roster with zero total occupants.
	Anomalies []string
}

// GrandTotal sums every apartment's cycle total.
func (r *Result) GrandTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, t := range r.Totals {
		sum = sum.Add(t)
	}
	return sum
}

// Distribute allocates every expense across the roster according to its
// rule. An invalid or malformed record aborts with a configuration error;
// an empty roster yields an empty result.
func Distribute(expenses []expense.Record, roster []Participant) (*Result, error) {
	res := &Result{
		Shares: make(map[int64]map[string]decimal.Decimal),
		Totals: make(map[int64]decimal.Decimal),
	}
	for _, p := range roster {
		res.Totals[p.ApartmentID] = decimal.Zero
	}
	if len(roster) == 0 {
		return res, nil
	}

	for i := range expenses {
		rec := &expenses[i]
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		participants := participating(rec, roster)
		if len(participants) == 0 {
			continue
		}

		var shares map[int64]decimal.Decimal
		switch rec.Rule {
		case expense.RulePerApartment:
			shares = splitEqual(rec.TotalAmount, participants)
		case expense.RulePerPerson:
			totalPersons := 0
			for _, p := range participants {
				totalPersons += p.Persons
			}
			if totalPersons == 0 {
				// Every participating apartment is empty; fall back to an
				// equal split and surface the anomaly.
				shares = splitEqual(rec.TotalAmount, participants)
				res.Anomalies = append(res.Anomalies, "per-person expense "+rec.Name+" has zero total occupants, split equally")
			} else {
				shares = splitByPersons(rec.TotalAmount, participants, totalPersons)
			}
		case expense.RulePerConsumption:
			shares = make(map[int64]decimal.Decimal, len(participants))
			for _, p := range participants {
				reading, ok := rec.Consumption[p.ApartmentID]
				if !ok {
					res.UnreadMeters = append(res.UnreadMeters, UnreadMeter{Expense: rec.Name, ApartmentID: p.ApartmentID})
					continue
				}
				shares[p.ApartmentID] = reading.Mul(rec.UnitPrice).Round(2)
			}
		case expense.RuleIndividual:
			// Administrator-entered amounts pass through verbatim.
			shares = make(map[int64]decimal.Decimal, len(rec.IndividualAmounts))
			for _, p := range participants {
				if amount, ok := rec.IndividualAmounts[p.ApartmentID]; ok {
					shares[p.ApartmentID] = amount
				}
			}
		}

		for aptID, amount := range shares {
			res.Totals[aptID] = res.Totals[aptID].Add(amount)
			if amount.IsZero() {
				continue
			}
			if res.Shares[aptID] == nil {
				res.Shares[aptID] = make(map[string]decimal.Decimal)
			}
			res.Shares[aptID][rec.Name] = amount
		}
	}

	return res, nil
}

func participating(rec *expense.Record, roster []Participant) []Participant {
	out := make([]Participant, 0, len(roster))
	for _, p := range roster {
		if rec.Participates(p.ApartmentID) {
			out = append(out, p)
		}
	}
	return out
}

// splitEqual divides total evenly, truncating to cents and handing the
// leftover cents one by one to the lowest unit numbers so the allocations
// sum back to total exactly.
func splitEqual(total decimal.Decimal, participants []Participant) map[int64]decimal.Decimal {
	n := int64(len(participants))
	base := total.Div(decimal.NewFromInt(n)).RoundDown(2)
	shares := make(map[int64]decimal.Decimal, n)
	allocated := decimal.Zero
	for _, p := range participants {
		shares[p.ApartmentID] = base
		allocated = allocated.Add(base)
	}
	distributeRemainder(total.Sub(allocated), shares, participants)
	return shares
}

// splitByPersons divides total proportionally to occupant counts with the
// same remainder rule as splitEqual.
func splitByPersons(total decimal.Decimal, participants []Participant, totalPersons int) map[int64]decimal.Decimal {
	shares := make(map[int64]decimal.Decimal, len(participants))
	divisor := decimal.NewFromInt(int64(totalPersons))
	allocated := decimal.Zero
	for _, p := range participants {
		share := total.Mul(decimal.NewFromInt(int64(p.Persons))).Div(divisor).RoundDown(2)
		shares[p.ApartmentID] = share
		allocated = allocated.Add(share)
	}
	distributeRemainder(total.Sub(allocated), shares, participants)
	return shares
}

func distributeRemainder(residual decimal.Decimal, shares map[int64]decimal.Decimal, participants []Participant) {
	cents := residual.Mul(decimal.NewFromInt(100)).IntPart()
	if cents <= 0 {
		return
	}
	ordered := make([]Participant, len(participants))
	copy(ordered, participants)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })
	cent := decimal.New(1, -2)
	for i := int64(0); i < cents; i++ {
		p := ordered[i%int64(len(ordered))]
		shares[p.ApartmentID] = shares[p.ApartmentID].Add(cent)
	}
}
