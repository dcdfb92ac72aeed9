package utils

import "context"

// SetUserContext attaches the caller to ctx. Called by the auth middleware.
func SetUserContext(ctx context.Context, id uint, email string, role string) context.Context {
	return context.WithValue(ctx, principalKey, Principal{UserID: id, Email: email, Role: role})
}

// PrincipalFromContext reports false for anonymous requests.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok && p.UserID != 0
}

func GetUserIDFromContext(ctx context.Context) (uint, bool) {
	p, ok := PrincipalFromContext(ctx)
	return p.UserID, ok
}

func GetUserEmailFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.Email
}

func GetUserRoleFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.Role
}
