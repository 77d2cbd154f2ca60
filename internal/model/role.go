package model

import "fmt"

// Role is the access level carried in an API token.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleReviewer Role = "reviewer"
	RoleStudent  Role = "student"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleReviewer, RoleStudent:
		return r, nil
	}
	return "", fmt.Errorf("model: unknown role %q", s)
}

// RoleRank returns the numeric rank of a role (higher = more privileges).
func RoleRank(r Role) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleReviewer:
		return 2
	case RoleStudent:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole Role) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// ValidateSubject checks a token subject: 1-255 ASCII characters,
// alphanumeric plus dots, hyphens, underscores and @.
func ValidateSubject(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("subject is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("subject must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("subject contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
