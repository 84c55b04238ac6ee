package structure

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// RepositoryPort defines data access methods for the association structure.
type RepositoryPort interface {
	CreateAssociation(ctx context.Context, in CreateAssociationInput) (*Association, error)
	GetAssociation(ctx context.Context, id int64) (*Association, error)
	ListAssociations(ctx context.Context) ([]Association, error)
	CreateBlock(ctx context.Context, in CreateBlockInput) (*Block, error)
	ListBlocks(ctx context.Context, associationID int64) ([]Block, error)
	CreateStair(ctx context.Context, in CreateStairInput) (*Stair, error)
	ListStairs(ctx context.Context, associationID int64) ([]Stair, error)
	CreateApartment(ctx context.Context, in CreateApartmentInput) (*Apartment, error)
	UpdateApartment(ctx context.Context, id int64, in UpdateApartmentInput) (*Apartment, error)
	GetApartment(ctx context.Context, id int64) (*Apartment, error)
	ListRoster(ctx context.Context, associationID int64) ([]RosterEntry, error)
}

// Service handles association structure business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateAssociation registers a new association.
func (s *Service) CreateAssociation(ctx context.Context, in CreateAssociationInput) (*Association, error) {
	if in.Name == "" {
		return nil, errors.New("structure: association name required")
	}
	return s.repo.CreateAssociation(ctx, in)
}

// GetAssociation returns one association.
func (s *Service) GetAssociation(ctx context.Context, id int64) (*Association, error) {
	return s.repo.GetAssociation(ctx, id)
}

// ListAssociations returns all associations.
func (s *Service) ListAssociations(ctx context.Context) ([]Association, error) {
	return s.repo.ListAssociations(ctx)
}

// CreateBlock adds a block to an association.
func (s *Service) CreateBlock(ctx context.Context, in CreateBlockInput) (*Block, error) {
	if in.AssociationID == 0 || in.Name == "" {
		return nil, errors.New("structure: association id and block name required")
	}
	return s.repo.CreateBlock(ctx, in)
}

// ListBlocks returns an association's blocks.
func (s *Service) ListBlocks(ctx context.Context, associationID int64) ([]Block, error) {
	return s.repo.ListBlocks(ctx, associationID)
}

// CreateStair adds a stairwell to a block.
func (s *Service) CreateStair(ctx context.Context, in CreateStairInput) (*Stair, error) {
	if in.BlockID == 0 || in.Name == "" {
		return nil, errors.New("structure: block id and stair name required")
	}
	return s.repo.CreateStair(ctx, in)
}

// ListStairs returns an association's stairs across its blocks.
func (s *Service) ListStairs(ctx context.Context, associationID int64) ([]Stair, error) {
	return s.repo.ListStairs(ctx, associationID)
}

// CreateApartment registers an apartment on a stair.
func (s *Service) CreateApartment(ctx context.Context, in CreateApartmentInput) (*Apartment, error) {
	if in.StairID == 0 {
		return nil, errors.New("structure: stair id required")
	}
	if in.Number <= 0 {
		return nil, errors.New("structure: apartment number must be positive")
	}
	if in.Persons < 0 {
		return nil, errors.New("structure: persons must not be negative")
	}
	return s.repo.CreateApartment(ctx, in)
}

// UpdateApartment changes the mutable occupant fields.
func (s *Service) UpdateApartment(ctx context.Context, id int64, in UpdateApartmentInput) (*Apartment, error) {
	if in.Persons < 0 {
		return nil, errors.New("structure: persons must not be negative")
	}
	return s.repo.UpdateApartment(ctx, id, in)
}

// GetApartment returns one apartment.
func (s *Service) GetApartment(ctx context.Context, id int64) (*Apartment, error) {
	return s.repo.GetApartment(ctx, id)
}

// ListRoster returns the association's apartments ordered by block name,
// stair name, then unit number. Names collate under the Romanian locale so
// "Scara A" / "Scara Ă" sort the way administrators expect.
func (s *Service) ListRoster(ctx context.Context, associationID int64) ([]RosterEntry, error) {
	roster, err := s.repo.ListRoster(ctx, associationID)
	if err != nil {
		return nil, err
	}
	SortRoster(roster)
	return roster, nil
}

// SortRoster orders roster entries in place.
func SortRoster(roster []RosterEntry) {
	c := collate.New(language.Romanian)
	sort.SliceStable(roster, func(i, j int) bool {
		if roster[i].BlockName != roster[j].BlockName {
			return c.CompareString(roster[i].BlockName, roster[j].BlockName) < 0
		}
		if roster[i].StairName != roster[j].StairName {
			return c.CompareString(roster[i].StairName, roster[j].StairName) < 0
		}
		return roster[i].Number < roster[j].Number
	})
}
