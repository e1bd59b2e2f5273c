package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func authTestRouter(t *testing.T) (*gin.Engine, *types.Principal) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var seen types.Principal
	am := NewAuthMiddleware(testSecret, logger.NewNop())
	r := gin.New()
	r.GET("/probe", am.RequireAuth(), func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		seen = p
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestRequireAuthValidToken(t *testing.T) {
	r, seen := authTestRouter(t)
	subject := uuid.New()
	roleID := uuid.New()

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":       subject.String(),
		"name":      "analyst",
		"clearance": float64(types.ClearanceConfidential),
		"role_id":   roleID.String(),
	})
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d body=%s", w.Code, w.Body.String())
	}
	if seen.ID != subject {
		t.Fatalf("want principal %s, got %s", subject, seen.ID)
	}
	if seen.Clearance != types.ClearanceConfidential {
		t.Fatalf("want CONFIDENTIAL, got %s", seen.Clearance)
	}
	if seen.RoleID != roleID {
		t.Fatalf("want role %s, got %s", roleID, seen.RoleID)
	}
}

func TestRequireAuthStringClearanceClaim(t *testing.T) {
	r, seen := authTestRouter(t)
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":       uuid.New().String(),
		"clearance": "SECRET",
	})
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	if seen.Clearance != types.ClearanceSecret {
		t.Fatalf("want SECRET, got %s", seen.Clearance)
	}
}

func TestRequireAuthRejections(t *testing.T) {
	r, _ := authTestRouter(t)

	cases := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{
			name: "wrong secret",
			token: signToken(t, "other-secret", jwt.MapClaims{
				"sub": uuid.New().String(), "clearance": float64(1),
			}),
		},
		{
			name: "missing clearance",
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": uuid.New().String(),
			}),
		},
		{
			name: "out of range clearance",
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": uuid.New().String(), "clearance": float64(9),
			}),
		},
		{
			name: "expired",
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": uuid.New().String(), "clearance": float64(1),
				"exp": time.Now().Add(-time.Minute).Unix(),
			}),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/probe", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("want 401, got %d", w.Code)
			}
		})
	}
}
