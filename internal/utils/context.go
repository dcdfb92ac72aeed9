package utils

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller resolved from the JWT.
type Principal struct {
	UserID uint
	Email  string
	Role   string
}
