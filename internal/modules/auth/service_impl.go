package auth

import (
	"context"
	"errors"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tilla-pos/api/internal/modules/staff"
)

// ErrInvalidCredentials hides whether the staff ID or the PIN was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

const tokenTTL = 24 * time.Hour

type service struct {
	staffRepo staff.Repository
	secret    []byte
}

// NewService creates a new auth service signing tokens with secret.
func NewService(staffRepo staff.Repository, secret string) Service {
	return &service{staffRepo: staffRepo, secret: []byte(secret)}
}

func (s *service) Login(ctx context.Context, staffID uuid.UUID, pin string) (string, *staff.Staff, error) {
	member, err := s.staffRepo.GetByID(ctx, staffID)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if !member.Active {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(member.PINHash), []byte(pin)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now()
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   member.ID.String(),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(tokenTTL).Unix(),
		},
		StaffID:  member.ID,
		OrgID:    member.OrgID,
		BranchID: member.BranchID,
		Role:     member.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, member, nil
}
