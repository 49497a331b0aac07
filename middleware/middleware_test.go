package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/store"
	"github.com/eitanko/Suggesty-backend/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func echoAccount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"account": AccountID(c)})
}

func TestAuthRequired(t *testing.T) {
	issuer, err := utils.NewTokenIssuer("s3cret", time.Hour)
	require.NoError(t, err)
	token, err := issuer.GenerateJWT(&models.User{ID: 1, AccountID: 42, Email: "a@shop.test"})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/x", AuthRequired(issuer, logger.Nop()), echoAccount)

	cases := []struct {
		name   string
		setup  func(*http.Request)
		status int
	}{
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "jwt_token", Value: token}) }, http.StatusOK},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"no scheme", func(r *http.Request) { r.Header.Set("Authorization", token) }, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			tc.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.JSONEq(t, `{"account":42}`, w.Body.String())
			}
		})
	}
}

func TestAPIKeyRequired(t *testing.T) {
	s := store.NewMemoryStore()
	acc, err := s.CreateAccount(context.Background(), "shop", "key-1")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/x", APIKeyRequired(s, logger.Nop()), echoAccount)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-API-KEY", "key-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"account":`)
	assert.Equal(t, int64(1), acc.ID)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-API-KEY", "unknown")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware("https://app.shop.test"))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.shop.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.shop.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}
