package staff

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tilla-pos/api/internal/errs"
)

type service struct {
	repo Repository
}

// NewService creates a new staff service.
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Enroll(ctx context.Context, orgID uuid.UUID, req CreateStaffRequest) (*Staff, error) {
	if req.FullName == "" {
		return nil, errs.New(errs.CodePreconditionFailed, "full_name is required")
	}
	if len(req.PIN) < 4 {
		return nil, errs.New(errs.CodePreconditionFailed, "pin must be at least 4 digits")
	}
	role := Role(req.Role)
	switch role {
	case RoleCashier, RoleManager, RoleAdmin:
	default:
		return nil, errs.New(errs.CodePreconditionFailed, "unknown role %q", req.Role)
	}
	branchID, err := uuid.Parse(req.BranchID)
	if err != nil {
		return nil, errs.New(errs.CodePreconditionFailed, "invalid branch_id")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	st := &Staff{
		ID:       uuid.New(),
		OrgID:    orgID,
		BranchID: branchID,
		FullName: req.FullName,
		Role:     role,
		PINHash:  string(hash),
		Active:   true,
	}
	if err := s.repo.Create(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *service) Get(ctx context.Context, orgID, id uuid.UUID) (*Staff, error) {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.OrgID != orgID {
		return nil, errs.New(errs.CodeNotFound, "staff member not found")
	}
	return st, nil
}
