package domain

// Role names carried in identity tokens.
const (
	RoleBuyer   = "buyer"
	RoleSupport = "support"
	RoleAdmin   = "admin"
)
