package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/store"
	"github.com/eitanko/Suggesty-backend/utils"
)

type AuthHandlers struct {
	Store  store.Store
	Tokens *utils.TokenIssuer
	log    *logger.Logger
}

func NewAuthHandlers(s store.Store, tokens *utils.TokenIssuer, log *logger.Logger) *AuthHandlers {
	return &AuthHandlers{Store: s, Tokens: tokens, log: log.With("handler", "auth")}
}

func (h *AuthHandlers) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	_, err := h.Store.GetUserByEmail(c.Request.Context(), req.Email)
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.log.Error("database error during signup email check", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check user existence"})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error("failed to hash password", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	user, err := h.Store.CreateUser(c.Request.Context(), req.AccountID, req.Email, hashedPassword)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown account"})
		default:
			h.log.Error("failed to create user", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		}
		return
	}

	h.log.Info("user registered", "user_id", user.ID, "account_id", user.AccountID)
	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "user_email": user.Email})
}

// Login checks the password and issues a JWT cookie scoped to the user's account.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	user, err := h.Store.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Error("login lookup failed", "error", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := h.Tokens.GenerateJWT(user)
	if err != nil {
		h.log.Error("failed to generate jwt", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	c.SetCookie("jwt_token", tokenString, int(h.Tokens.TTL().Seconds()), "/", "", false, true)

	h.log.Info("user logged in", "user_id", user.ID)
	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"user_email": user.Email,
		"token":      tokenString,
	})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	c.SetCookie("jwt_token", "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
