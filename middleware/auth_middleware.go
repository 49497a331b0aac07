package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/store"
	"github.com/eitanko/Suggesty-backend/utils"
)

// Context keys set by the middleware.
const (
	KeyUserID    = "user_id"
	KeyUserEmail = "user_email"
	KeyAccountID = "account_id"
)

// AuthRequired accepts a JWT from the jwt_token cookie or a Bearer header
// and scopes the request to the token's account.
func AuthRequired(issuer *utils.TokenIssuer, log *logger.Logger) gin.HandlerFunc {
	log = log.With("middleware", "AuthRequired")
	return func(c *gin.Context) {
		tokenString, err := c.Cookie("jwt_token")
		if err != nil || tokenString == "" {
			tokenString = c.GetHeader("Authorization")
			if len(tokenString) > 7 && strings.EqualFold(tokenString[:7], "Bearer ") {
				tokenString = tokenString[7:]
			} else {
				tokenString = ""
			}
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}

		claims, err := issuer.ValidateJWT(tokenString)
		if err != nil {
			log.Debug("rejected token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set(KeyUserID, claims.UserID)
		c.Set(KeyUserEmail, claims.Email)
		c.Set(KeyAccountID, claims.AccountID)
		c.Next()
	}
}

// APIKeyRequired resolves the owning account from the X-API-KEY header.
func APIKeyRequired(s store.Store, log *logger.Logger) gin.HandlerFunc {
	log = log.With("middleware", "APIKeyRequired")
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-KEY")
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No API key provided"})
			return
		}
		account, err := s.AccountByAPIKey(c.Request.Context(), key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Unknown API key"})
				return
			}
			log.Error("api key lookup failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve account"})
			return
		}
		c.Set(KeyAccountID, account.ID)
		c.Next()
	}
}

// AccountID returns the account the request was scoped to.
func AccountID(c *gin.Context) int64 {
	return c.GetInt64(KeyAccountID)
}
