package userdir

import "time"

// Role classifies directory users.
type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// SystemLogin is the reserved login of the automated actor used for
// externally triggered payment confirmations. The row is seeded by migration.
const SystemLogin = "system"

// User is the directory representation of an acting user. It mirrors the
// users table and carries no presentation annotations.
type User struct {
	ID           string
	Login        string
	Name         string
	Email        string
	Phone        string
	Language     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterParams contains the data supplied when provisioning an operator.
type RegisterParams struct {
	Login    string
	Password string
	Name     string
	Role     Role
}

// LoginResult bundles the token and user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}
