package webservice

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	authCookie = "auth_token"
	tokenTTL   = 2 * time.Hour
)

type CustomClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (wm *WebMaster) GenerateToken() (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			Issuer:    "webkvm",
			Subject:   wm.hostname,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(wm.jwtSecret)
}

// HybridAuthMiddleware accepts the token from the auth cookie or from a
// Bearer Authorization header.
func (wm *WebMaster) HybridAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, _ := c.Cookie(authCookie)
		if tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
				tokenString = authHeader[7:]
			}
		}
		// browsers cannot set headers on websocket upgrades
		if tokenString == "" && c.Request.URL.Path == "/ws" {
			tokenString = c.Query("token")
		}

		if tokenString == "" || !wm.validateToken(tokenString) {
			if strings.Contains(c.GetHeader("Accept"), "text/html") {
				c.Redirect(http.StatusFound, "/unlock")
				c.Abort()
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			}
			return
		}
		c.Next()
	}
}

func (wm *WebMaster) validateToken(tokenString string) bool {
	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return wm.jwtSecret, nil
	}, jwt.WithIssuer("webkvm"))
	return err == nil && token.Valid
}
