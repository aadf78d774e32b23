package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-with-enough-length"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func validClaims() Claims {
	now := time.Now()
	return Claims{
		Username: "operator1",
		Role:     "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			Issuer:    "auth-service",
		},
	}
}

func TestVerify(t *testing.T) {
	v := NewVerifier(testSecret, "auth-service")

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	noUser := validClaims()
	noUser.Username = ""

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()), false},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims()), true},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(testSecret), expired), true},
		{"wrong issuer", sign(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer), true},
		{"missing username", sign(t, jwt.SigningMethodHS256, []byte(testSecret), noUser), true},
		{"hs512 rejected", sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims()), true},
		{"garbage", "not.a.token", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Errorf("Expected ErrInvalidToken, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if claims.Username != "operator1" || claims.Role != "operator" {
				t.Errorf("Unexpected claims %+v", claims)
			}
		})
	}
}

func TestRequireBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewVerifier(testSecret, "")

	r := gin.New()
	r.GET("/me", RequireBearer(v), func(c *gin.Context) {
		c.String(http.StatusOK, Username(c)+"/"+Role(c))
	})

	token := sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"valid", "Bearer " + token, http.StatusOK, "operator1/operator"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"basic scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.code {
				t.Fatalf("Expected status %d, got %d", tt.code, w.Code)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("Expected body %q, got %q", tt.body, w.Body.String())
			}
		})
	}
}
