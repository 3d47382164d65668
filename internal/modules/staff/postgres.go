package staff

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/tilla-pos/api/internal/errs"
)

type postgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL staff repository.
func NewPostgresRepository(db *sql.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, st *Staff) error {
	query := `
		INSERT INTO staff (id, org_id, branch_id, full_name, role, pin_hash, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		st.ID, st.OrgID, st.BranchID, st.FullName, st.Role, st.PINHash, st.Active)
	return err
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	st := &Staff{}
	query := `
		SELECT id, org_id, branch_id, full_name, role, pin_hash, active, created_at, updated_at
		FROM staff
		WHERE id = $1
	`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&st.ID,
		&st.OrgID,
		&st.BranchID,
		&st.FullName,
		&st.Role,
		&st.PINHash,
		&st.Active,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.CodeNotFound, "staff member not found")
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}
