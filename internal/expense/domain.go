// Package expense models the monthly expense records a maintenance sheet
// distributes across apartments.
package expense

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AllocationRule is the closed set of distribution methods. Records are
// validated at construction; an unknown rule is a configuration error the
// caller has to fix, never a silent default.
type AllocationRule string

const (
	RulePerApartment   AllocationRule = "per_apartment"
	RulePerPerson      AllocationRule = "per_person"
	RulePerConsumption AllocationRule = "per_consumption"
	RuleIndividual     AllocationRule = "individual_amounts"
)

var (
	// ErrInvalidRule indicates an allocation rule outside the closed set.
	ErrInvalidRule = errors.New("expense: invalid allocation rule")
	// ErrMalformed indicates a record whose fields do not match its rule.
	ErrMalformed = errors.New("expense: malformed record")
)

// ParseAllocationRule validates a rule string.
func ParseAllocationRule(s string) (AllocationRule, error) {
	switch AllocationRule(s) {
	case RulePerApartment, RulePerPerson, RulePerConsumption, RuleIndividual:
		return AllocationRule(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRule, s)
	}
}

// Record is one expense inside a sheet. Amount fields are populated
// according to Rule; the others stay zero.
type Record struct {
	ID      int64          `json:"id"`
	SheetID int64          `json:"sheet_id"`
	Name    string         `json:"name"`
	Rule    AllocationRule `json:"rule"`

	// TotalAmount applies to per_apartment and per_person records.
	TotalAmount decimal.Decimal `json:"total_amount"`

	// UnitPrice and Consumption apply to per_consumption records.
	// Consumption maps apartment id to the metered reading.
	UnitPrice   decimal.Decimal           `json:"unit_price"`
	Consumption map[int64]decimal.Decimal `json:"consumption,omitempty"`

	// IndividualAmounts applies to individual_amounts records and is
	// returned verbatim by distribution; its sum is not reconciled
	// against any total.
	IndividualAmounts map[int64]decimal.Decimal `json:"individual_amounts,omitempty"`

	// PriorIndex and CurrentIndex track meter positions per apartment for
	// per_consumption records. PriorIndex is carried over from the last
	// cycle; entering a current index derives the Consumption reading.
	PriorIndex   map[int64]decimal.Decimal `json:"prior_index,omitempty"`
	CurrentIndex map[int64]decimal.Decimal `json:"current_index,omitempty"`

	// Excluded lists apartments that do not participate in this expense.
	Excluded map[int64]bool `json:"excluded,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participates reports whether an apartment takes part in this expense.
func (r *Record) Participates(apartmentID int64) bool {
	return !r.Excluded[apartmentID]
}

// Validate checks rule/field consistency.
func (r *Record) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name required", ErrMalformed)
	}
	if _, err := ParseAllocationRule(string(r.Rule)); err != nil {
		return err
	}
	switch r.Rule {
	case RulePerApartment, RulePerPerson:
		if r.TotalAmount.IsNegative() {
			return fmt.Errorf("%w: %s total must not be negative", ErrMalformed, r.Name)
		}
	case RulePerConsumption:
		if r.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: %s unit price must not be negative", ErrMalformed, r.Name)
		}
		for apt, reading := range r.Consumption {
			if reading.IsNegative() {
				return fmt.Errorf("%w: %s has negative reading for apartment %d", ErrMalformed, r.Name, apt)
			}
		}
	case RuleIndividual:
		for apt, amount := range r.IndividualAmounts {
			if amount.IsNegative() {
				return fmt.Errorf("%w: %s has negative amount for apartment %d", ErrMalformed, r.Name, apt)
			}
		}
	}
	return nil
}

// ErrIndexRegression indicates a meter index below the carried-over one.
var ErrIndexRegression = errors.New("expense: meter index below prior index")

// ApplyReading records a meter index for an apartment and derives the
// consumed quantity against the prior index. With no prior index the
// index itself is the consumption (first metered cycle).
func (r *Record) ApplyReading(apartmentID int64, newIndex decimal.Decimal) error {
	if r.Rule != RulePerConsumption {
		return fmt.Errorf("%w: %s is not metered", ErrMalformed, r.Name)
	}
	if newIndex.IsNegative() {
		return fmt.Errorf("%w: %s has negative index for apartment %d", ErrMalformed, r.Name, apartmentID)
	}
	consumed := newIndex
	if prior, ok := r.PriorIndex[apartmentID]; ok {
		if newIndex.LessThan(prior) {
			return fmt.Errorf("%w: apartment %d index %s < %s", ErrIndexRegression, apartmentID, newIndex, prior)
		}
		consumed = newIndex.Sub(prior)
	}
	if r.CurrentIndex == nil {
		r.CurrentIndex = make(map[int64]decimal.Decimal)
	}
	if r.Consumption == nil {
		r.Consumption = make(map[int64]decimal.Decimal)
	}
	r.CurrentIndex[apartmentID] = newIndex
	r.Consumption[apartmentID] = consumed
	return nil
}

// NextCycle returns the record reset for the following month: amounts and
// readings cleared, configuration kept, current meter indexes carried over
// as the new prior indexes.
func (r *Record) NextCycle() Record {
	next := Record{
		Name:      r.Name,
		Rule:      r.Rule,
		UnitPrice: r.UnitPrice,
	}
	if len(r.Excluded) > 0 {
		next.Excluded = make(map[int64]bool, len(r.Excluded))
		for id, v := range r.Excluded {
			next.Excluded[id] = v
		}
	}
	if r.Rule == RulePerConsumption {
		next.PriorIndex = make(map[int64]decimal.Decimal, len(r.PriorIndex)+len(r.CurrentIndex))
		for id, idx := range r.PriorIndex {
			next.PriorIndex[id] = idx
		}
		for id, idx := range r.CurrentIndex {
			next.PriorIndex[id] = idx
		}
	}
	return next
}

// MissingEntry describes an apartment-level gap blocking publication.
type MissingEntry struct {
	Expense     string `json:"expense"`
	ApartmentID int64  `json:"apartment_id"`
	Kind        string `json:"kind"` // "reading" or "amount"
}

// MissingEntries reports the gaps for this record against the roster. A
// consumption record needs a reading per participating apartment; an
// individual record needs every amount entered. Rules distributing a total
// are always complete.
func (r *Record) MissingEntries(apartmentIDs []int64) []MissingEntry {
	var out []MissingEntry
	switch r.Rule {
	case RulePerConsumption:
		for _, id := range apartmentIDs {
			if !r.Participates(id) {
				continue
			}
			if _, ok := r.Consumption[id]; !ok {
				out = append(out, MissingEntry{Expense: r.Name, ApartmentID: id, Kind: "reading"})
			}
		}
	case RuleIndividual:
		for _, id := range apartmentIDs {
			if !r.Participates(id) {
				continue
			}
			if _, ok := r.IndividualAmounts[id]; !ok {
				out = append(out, MissingEntry{Expense: r.Name, ApartmentID: id, Kind: "amount"})
			}
		}
	}
	return out
}
