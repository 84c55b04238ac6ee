package structure

import (
	"time"

	"github.com/shopspring/decimal"
)

// Association represents a condominium association.
type Association struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CUI       string    `json:"cui"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Block represents a building block inside an association.
type Block struct {
	ID            int64  `json:"id"`
	AssociationID int64  `json:"association_id"`
	Name          string `json:"name"`
}

// Stair represents a stairwell inside a block.
type Stair struct {
	ID      int64  `json:"id"`
	BlockID int64  `json:"block_id"`
	Name    string `json:"name"`
}

// Apartment model. Identity and stair membership never change after setup;
// occupant count and owner are mutable.
type Apartment struct {
	ID        int64     `json:"id"`
	StairID   int64     `json:"stair_id"`
	Number    int       `json:"number"`
	Owner     string    `json:"owner"`
	Persons   int       `json:"persons"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Opening balances entered at structure setup, consumed once when the
	// association's first sheet is created.
	InitialRestante   decimal.Decimal `json:"initial_restante"`
	InitialPenalitati decimal.Decimal `json:"initial_penalitati"`
}

// RosterEntry is an apartment joined with its block/stair names, used for
// the distribution roster and maintenance table ordering.
type RosterEntry struct {
	Apartment
	BlockName string `json:"block_name"`
	StairName string `json:"stair_name"`
}

// CreateAssociationInput for creating associations.
type CreateAssociationInput struct {
	Name    string `validate:"required"`
	CUI     string
	Address string
}

// CreateBlockInput for creating blocks.
type CreateBlockInput struct {
	AssociationID int64  `validate:"required"`
	Name          string `validate:"required"`
}

// CreateStairInput for creating stairs.
type CreateStairInput struct {
	BlockID int64  `validate:"required"`
	Name    string `validate:"required"`
}

// CreateApartmentInput for creating apartments.
type CreateApartmentInput struct {
	StairID           int64 `validate:"required"`
	Number            int   `validate:"required,gt=0"`
	Owner             string
	Persons           int `validate:"gte=0"`
	InitialRestante   decimal.Decimal
	InitialPenalitati decimal.Decimal
}

// UpdateApartmentInput carries the mutable apartment fields.
type UpdateApartmentInput struct {
	Owner   string
	Persons int `validate:"gte=0"`
}
