// internal/middleware/helpers.go
package middleware

import (
	"github.com/gin-gonic/gin"
)

// GetPrincipal gets the authenticated principal from context
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}

// MustGetPrincipal gets the principal from context or panics
func MustGetPrincipal(c *gin.Context) *Principal {
	p, ok := GetPrincipal(c)
	if !ok {
		panic("principal not found in context")
	}
	return p
}

// GetPrincipalID gets the principal id from context
func GetPrincipalID(c *gin.Context) (int64, bool) {
	p, ok := GetPrincipal(c)
	if !ok {
		return 0, false
	}
	return p.PrincipalID, true
}

// IsAuthenticated checks if request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, ok := GetPrincipal(c)
	return ok
}
