package models

import "github.com/golang-jwt/jwt"

const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleCustomer = "customer"
)

// IsStaff reports whether the role sees every customer's data.
func IsStaff(role string) bool {
	return role == RoleAdmin || role == RoleManager
}

type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.StandardClaims
}
