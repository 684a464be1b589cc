// Package validation provides input validation for the settlement API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxAccountIDLength bounds the opaque account identifier.
const MaxAccountIDLength = 64

// MaxExternalRefLength bounds gateway references.
const MaxExternalRefLength = 255

// accountIDRegex accepts opaque identity-provider IDs: word chars, dash, dot, colon.
var accountIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAccountID checks that an account ID is a plausible opaque identifier.
func IsValidAccountID(id string) bool {
	if id == "" || len(id) > MaxAccountIDLength {
		return false
	}
	return accountIDRegex.MatchString(id)
}

// IsValidExternalRef checks a gateway-supplied reference.
func IsValidExternalRef(ref string) bool {
	if ref == "" || len(ref) > MaxExternalRefLength {
		return false
	}
	return !strings.ContainsAny(ref, "\x00\n\r")
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}
