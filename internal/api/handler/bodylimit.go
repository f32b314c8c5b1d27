package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	minBodyBytes  = 1 << 20
	bodyOverhead  = 4 << 10
	maxJSONEscape = 6 // a control byte encodes as \u00XX
)

// MaxBodyBytes returns the request body cap that still lets an append of
// maxTransaction bytes through, whatever its JSON escaping. It never goes
// below 1 MiB.
func MaxBodyBytes(maxTransaction int) int64 {
	n := int64(maxTransaction)*maxJSONEscape + bodyOverhead
	if n < minBodyBytes {
		n = minBodyBytes
	}
	return n
}

// BodyLimit caps every request body at n bytes. Handlers see an
// *http.MaxBytesError once the cap is hit.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
