// security.go stamps protective response headers on everything the API
// listener serves. ChronoBill answers JSON to first-party tooling plus the
// embedded Swagger UI; the JSON surface is locked down outright, and the UI
// route layers its own nonce-based CSP on top rather than loosening the
// global policy.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// HeaderPolicy is the set of protective headers applied to every response.
// Zero or empty fields omit the corresponding header.
type HeaderPolicy struct {
	// HSTSMaxAgeSeconds emits Strict-Transport-Security when positive. Keep
	// it zero on plaintext deployments: a pin served from a dev setup locks
	// browsers onto https://localhost until it expires.
	HSTSMaxAgeSeconds int
	// HSTSIncludeSubdomains extends the pin to subdomains of the serving host.
	HSTSIncludeSubdomains bool
	// FrameOptions is the X-Frame-Options value.
	FrameOptions string
	// CSP is the Content-Security-Policy value.
	CSP string
	// ReferrerPolicy is the Referrer-Policy value.
	ReferrerPolicy string
}

// APIHeaderPolicy returns the policy for the JSON API: responses may not be
// framed or embedded anywhere, scripts never execute, and no referrer
// information leaks on outbound navigation. withHSTS should be true only
// when the listener terminates TLS itself; a year-long HTTPS pin is the
// wrong thing to advertise from plain HTTP.
func APIHeaderPolicy(withHSTS bool) HeaderPolicy {
	p := HeaderPolicy{
		FrameOptions:   "DENY",
		CSP:            "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy: "no-referrer",
	}
	if withHSTS {
		p.HSTSMaxAgeSeconds = 31536000 // one year
		p.HSTSIncludeSubdomains = true
	}
	return p
}

// SecurityHeaders applies the policy plus a fixed cross-origin isolation
// set. The fixed headers hold for any deployment; only the policy-driven
// ones vary with how the server is exposed.
func SecurityHeaders(policy HeaderPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if policy.HSTSMaxAgeSeconds > 0 {
			hsts := "max-age=" + strconv.Itoa(policy.HSTSMaxAgeSeconds)
			if policy.HSTSIncludeSubdomains {
				hsts += "; includeSubDomains"
			}
			c.Header("Strict-Transport-Security", hsts)
		}
		if policy.FrameOptions != "" {
			c.Header("X-Frame-Options", policy.FrameOptions)
		}
		if policy.CSP != "" {
			c.Header("Content-Security-Policy", policy.CSP)
		}
		if policy.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", policy.ReferrerPolicy)
		}

		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Permitted-Cross-Domain-Policies", "none")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Header("Cross-Origin-Resource-Policy", "same-origin")

		c.Next()
	}
}
