package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

const principalKey = "principal"

// AuthMiddleware verifies the bearer token and materializes the caller's
// Principal. The token is issued by the identity service; this backend
// only validates the signature and reads the clearance claims, there is
// no local user store.
type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

func NewAuthMiddleware(secret string, baseLog *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		log:    baseLog.With("middleware", "AuthMiddleware"),
		secret: []byte(secret),
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		principal, err := am.parsePrincipal(tokenString)
		if err != nil {
			am.log.Debug("Token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// PrincipalFrom returns the authenticated caller, or false on routes that
// skipped RequireAuth.
func PrincipalFrom(c *gin.Context) (types.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return types.Principal{}, false
	}
	p, ok := v.(types.Principal)
	return p, ok
}

func (am *AuthMiddleware) parsePrincipal(tokenString string) (types.Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return am.secret, nil
	})
	if err != nil {
		return types.Principal{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return types.Principal{}, fmt.Errorf("invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	id, err := uuid.Parse(sub)
	if err != nil {
		return types.Principal{}, fmt.Errorf("invalid subject: %w", err)
	}

	clearance, err := parseClearanceClaim(claims["clearance"])
	if err != nil {
		return types.Principal{}, err
	}

	principal := types.Principal{
		ID:        id,
		Clearance: clearance,
	}
	if name, ok := claims["name"].(string); ok {
		principal.Name = name
	}
	if raw, ok := claims["role_id"].(string); ok {
		if roleID, err := uuid.Parse(raw); err == nil {
			principal.RoleID = roleID
		}
	}
	if raw, ok := claims["department_id"].(string); ok {
		if deptID, err := uuid.Parse(raw); err == nil {
			principal.DepartmentID = deptID
		}
	}
	return principal, nil
}

func parseClearanceClaim(raw any) (types.Clearance, error) {
	switch v := raw.(type) {
	case float64:
		level := types.Clearance(int16(v))
		if !level.Valid() || float64(int16(v)) != v {
			return 0, fmt.Errorf("invalid clearance claim %v", v)
		}
		return level, nil
	case string:
		return types.ParseClearance(v)
	default:
		return 0, fmt.Errorf("missing clearance claim")
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
