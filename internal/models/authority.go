package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleScheduler UserRole = "SCHEDULER"
	RoleViewer    UserRole = "VIEWER"
)

// Authority identifies the acting user for privileged operations. It is
// always passed explicitly into the engine, never read from ambient state.
type Authority struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
}

// CanSchedule reports whether the authority may mutate draft timetables.
func (a Authority) CanSchedule() bool {
	return a.Role == RoleAdmin || a.Role == RoleScheduler
}

// CanPublish reports whether the authority may publish, unpublish, or mutate
// a published timetable.
func (a Authority) CanPublish() bool {
	return a.Role == RoleAdmin || a.Role == RoleScheduler
}

// CanForce reports whether the authority may bypass the conflict gate or
// archive a timetable.
func (a Authority) CanForce() bool {
	return a.Role == RoleAdmin
}

// JWTClaims represents the JWT payload for access tokens issued by the
// identity service.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Authority converts token claims into an explicit authority value.
func (c *JWTClaims) Authority() Authority {
	if c == nil {
		return Authority{}
	}
	return Authority{UserID: c.UserID, Role: c.Role}
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
