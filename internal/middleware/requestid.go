package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier on the wire.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is where the identifier lives in gin.Context, so handlers
	// and later middleware read it without touching headers.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware tags every request with an identifier: the upstream
// X-Request-ID when a gateway already assigned one, a fresh UUID otherwise.
// The value is stored on the context and echoed in the response so a caller
// can quote it when reporting a problem. Register it ahead of logging; the
// log middleware stamps every line with it.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
