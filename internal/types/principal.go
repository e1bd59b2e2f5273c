package types

import "github.com/google/uuid"

// Principal is the query-time view of a caller: just enough identity to
// evaluate the clearance and ACL filters. It is never persisted by this
// service; user administration lives elsewhere.
type Principal struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Clearance    Clearance `json:"clearance"`
	RoleID       uuid.UUID `json:"role_id"`
	DepartmentID uuid.UUID `json:"department_id"`
}

// CanRead reports whether the principal's level dominates the material's.
func (p Principal) CanRead(level Clearance) bool {
	return p.Clearance >= level
}
