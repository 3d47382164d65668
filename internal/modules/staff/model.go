package staff

import (
	"time"

	"github.com/google/uuid"
)

// Role gates what a staff member may do at the till.
type Role string

const (
	RoleCashier Role = "CASHIER"
	RoleManager Role = "MANAGER"
	RoleAdmin   Role = "ADMIN"
)

// Staff is a till operator within one organisation and branch. Sign-in is by
// ID plus PIN; the PIN is stored as a bcrypt hash and never serialised.
type Staff struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	BranchID  uuid.UUID `json:"branch_id"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	PINHash   string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateStaffRequest is the payload for enrolling a staff member.
type CreateStaffRequest struct {
	BranchID string `json:"branch_id"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	PIN      string `json:"pin"`
}
