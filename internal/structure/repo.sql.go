package structure

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blocadmin/blocadmin/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateAssociation inserts an association.
func (r *Repository) CreateAssociation(ctx context.Context, in CreateAssociationInput) (*Association, error) {
	var a Association
	err := r.pool.QueryRow(ctx, `INSERT INTO associations (name, cui, address, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW()) RETURNING id, name, cui, address, created_at, updated_at`,
		in.Name, in.CUI, in.Address).Scan(&a.ID, &a.Name, &a.CUI, &a.Address, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAssociation loads one association.
func (r *Repository) GetAssociation(ctx context.Context, id int64) (*Association, error) {
	var a Association
	err := r.pool.QueryRow(ctx, `SELECT id, name, cui, address, created_at, updated_at FROM associations WHERE id=$1`, id).
		Scan(&a.ID, &a.Name, &a.CUI, &a.Address, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAssociations returns all associations.
func (r *Repository) ListAssociations(ctx context.Context) ([]Association, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, cui, address, created_at, updated_at FROM associations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Association
	for rows.Next() {
		var a Association
		if err := rows.Scan(&a.ID, &a.Name, &a.CUI, &a.Address, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateBlock inserts a block.
func (r *Repository) CreateBlock(ctx context.Context, in CreateBlockInput) (*Block, error) {
	var b Block
	err := r.pool.QueryRow(ctx, `INSERT INTO blocks (association_id, name) VALUES ($1, $2) RETURNING id, association_id, name`,
		in.AssociationID, in.Name).Scan(&b.ID, &b.AssociationID, &b.Name)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBlocks returns the blocks of an association.
func (r *Repository) ListBlocks(ctx context.Context, associationID int64) ([]Block, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, association_id, name FROM blocks WHERE association_id=$1 ORDER BY id`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.ID, &b.AssociationID, &b.Name); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CreateStair inserts a stair.
func (r *Repository) CreateStair(ctx context.Context, in CreateStairInput) (*Stair, error) {
	var s Stair
	err := r.pool.QueryRow(ctx, `INSERT INTO stairs (block_id, name) VALUES ($1, $2) RETURNING id, block_id, name`,
		in.BlockID, in.Name).Scan(&s.ID, &s.BlockID, &s.Name)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListStairs returns all stairs of an association.
func (r *Repository) ListStairs(ctx context.Context, associationID int64) ([]Stair, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.block_id, s.name FROM stairs s
JOIN blocks b ON b.id = s.block_id WHERE b.association_id=$1 ORDER BY s.id`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Stair
	for rows.Next() {
		var s Stair
		if err := rows.Scan(&s.ID, &s.BlockID, &s.Name); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateApartment inserts an apartment.
func (r *Repository) CreateApartment(ctx context.Context, in CreateApartmentInput) (*Apartment, error) {
	var a Apartment
	err := r.pool.QueryRow(ctx, `INSERT INTO apartments (stair_id, number, owner, persons, initial_restante, initial_penalitati, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
RETURNING id, stair_id, number, owner, persons, initial_restante, initial_penalitati, created_at, updated_at`,
		in.StairID, in.Number, in.Owner, in.Persons, in.InitialRestante, in.InitialPenalitati).
		Scan(&a.ID, &a.StairID, &a.Number, &a.Owner, &a.Persons, &a.InitialRestante, &a.InitialPenalitati, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateApartment updates the mutable occupant fields.
func (r *Repository) UpdateApartment(ctx context.Context, id int64, in UpdateApartmentInput) (*Apartment, error) {
	var a Apartment
	err := r.pool.QueryRow(ctx, `UPDATE apartments SET owner=$1, persons=$2, updated_at=NOW() WHERE id=$3
RETURNING id, stair_id, number, owner, persons, initial_restante, initial_penalitati, created_at, updated_at`,
		in.Owner, in.Persons, id).
		Scan(&a.ID, &a.StairID, &a.Number, &a.Owner, &a.Persons, &a.InitialRestante, &a.InitialPenalitati, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetApartment loads one apartment.
func (r *Repository) GetApartment(ctx context.Context, id int64) (*Apartment, error) {
	var a Apartment
	err := r.pool.QueryRow(ctx, `SELECT id, stair_id, number, owner, persons, initial_restante, initial_penalitati, created_at, updated_at FROM apartments WHERE id=$1`, id).
		Scan(&a.ID, &a.StairID, &a.Number, &a.Owner, &a.Persons, &a.InitialRestante, &a.InitialPenalitati, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListRoster joins apartments with their stair and block names.
func (r *Repository) ListRoster(ctx context.Context, associationID int64) ([]RosterEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.stair_id, a.number, a.owner, a.persons,
a.initial_restante, a.initial_penalitati, a.created_at, a.updated_at, b.name, s.name
FROM apartments a
JOIN stairs s ON s.id = a.stair_id
JOIN blocks b ON b.id = s.block_id
WHERE b.association_id=$1`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RosterEntry
	for rows.Next() {
		var e RosterEntry
		if err := rows.Scan(&e.ID, &e.StairID, &e.Number, &e.Owner, &e.Persons,
			&e.InitialRestante, &e.InitialPenalitati, &e.CreatedAt, &e.UpdatedAt, &e.BlockName, &e.StairName); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
