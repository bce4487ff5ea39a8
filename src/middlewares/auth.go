package middlewares

import (
	"errors"
	"esm/src/lib"
	"esm/src/models"
	"esm/src/types"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"
)

// AuthMiddleware verifies an HS256 bearer token whose subject is the user id.
// The role is read from the user row, not from the token.
func AuthMiddleware(secret string, conn *gorm.DB) gin.HandlerFunc {
	jwtKey := []byte(secret)
	log := lib.WithComponent("auth")
	return func(ctx *gin.Context) {
		bearerToken := ctx.Request.Header.Get("Authorization")
		reqToken, found := strings.CutPrefix(bearerToken, "Bearer ")
		if !found || strings.TrimSpace(reqToken) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing bearer token"})
			return
		}
		claims := &types.Claims{}
		tkn, err := jwt.ParseWithClaims(strings.TrimSpace(reqToken), claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return jwtKey, nil
		})
		if err != nil || !tkn.Valid {
			log.Debug().Err(err).Msg("token rejected")
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}

		uid, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil || uid == 0 {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token subject"})
			return
		}
		var user models.User
		err = conn.WithContext(ctx.Request.Context()).Where(&models.User{ID: uint(uid)}).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unknown user"})
			return
		}
		if err != nil {
			log.Error().Err(err).Uint64("user_id", uid).Msg("user lookup failed")
			ctx.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		ctx.Set("email", user.Email)
		ctx.Set("id", user.ID)
		ctx.Set("uid", user.UID)
		ctx.Set("role", string(user.Role))
		ctx.Next()
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		role := types.Role(ctx.GetString("role"))
		for _, r := range roles {
			if r == role {
				ctx.Next()
				return
			}
		}
		ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "insufficient permissions"})
	}
}
