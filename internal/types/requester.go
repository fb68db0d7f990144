package types

// Role of a requester as reported by the access gate.
type Role string

const (
	RoleWorker Role = "worker"
	RoleLawyer Role = "lawyer"
	RoleAdmin  Role = "admin"
)

// Requester is the authenticated caller asking the core to act on a case.
type Requester struct {
	ID               string `json:"id"`
	Role             Role   `json:"role"`
	CreditsRemaining int    `json:"credits_remaining"`
	RateLimited      bool   `json:"rate_limited"`
}

// IsAdmin reports whether the requester has administrator rights.
func (r *Requester) IsAdmin() bool {
	return r != nil && r.Role == RoleAdmin
}

// CanFile reports whether the requester may file on behalf of c:
// the worker who owns the case, the lawyer assigned to it, or an admin.
func (r *Requester) CanFile(c *Case) bool {
	if r == nil || c == nil {
		return false
	}
	if r.IsAdmin() {
		return true
	}
	if r.ID != "" && r.ID == c.WorkerUserID {
		return true
	}
	return c.LawyerID != nil && *c.LawyerID == r.ID
}
