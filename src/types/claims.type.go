package types

import "github.com/golang-jwt/jwt/v4"

// Claims carries the caller identity; Subject holds the numeric user id.
// Role is always read from the users table, never from the token.
type Claims struct {
	jwt.RegisteredClaims
}
