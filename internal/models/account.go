package models

import "time"

type AccountRole string

const (
	// RoleStudent is the standard user of the rating site.
	RoleStudent AccountRole = "student"
	// RoleFaculty can respond to reviews of their own profile.
	RoleFaculty AccountRole = "faculty"
	// RoleAdmin can manage accounts and bypasses the email-verified gate.
	RoleAdmin AccountRole = "admin"
)

func (r AccountRole) Valid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleAdmin:
		return true
	}
	return false
}

type Account struct {
	ID                string
	Username          string
	Email             string
	PasswordHash      []byte
	FirstName         string
	LastName          string
	Role              AccountRole
	EmailVerified     bool
	VerificationToken *string
	ResetToken        *string
	ResetTokenExpiry  *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Public returns a copy safe to serialize to clients: the password hash and
// any pending tokens are stripped.
func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		FirstName:     a.FirstName,
		LastName:      a.LastName,
		Role:          a.Role,
		EmailVerified: a.EmailVerified,
		CreatedAt:     a.CreatedAt,
	}
}

type PublicAccount struct {
	ID            string      `json:"id"`
	Username      string      `json:"username"`
	Email         string      `json:"email"`
	FirstName     string      `json:"firstName,omitempty"`
	LastName      string      `json:"lastName,omitempty"`
	Role          AccountRole `json:"role"`
	EmailVerified bool        `json:"emailVerified"`
	CreatedAt     time.Time   `json:"createdAt"`
}
