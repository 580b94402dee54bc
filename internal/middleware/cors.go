package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginPolicy decides which browser origins may call the API. Entries are
// exact origins or "https://*.example.com" style subdomain wildcards.
type OriginPolicy struct {
	exact    map[string]struct{}
	suffixes []string // "://" scheme kept, e.g. "https://" + ".example.com"
}

func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{exact: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
		case strings.Contains(o, "://*."):
			p.suffixes = append(p.suffixes, strings.Replace(o, "://*.", "://.", 1))
		default:
			p.exact[o] = struct{}{}
		}
	}
	return p
}

// Allowed reports whether origin matches the policy
func (p *OriginPolicy) Allowed(origin string) bool {
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, s := range p.suffixes {
		scheme, host, _ := strings.Cut(s, "://")
		rest, ok := strings.CutPrefix(origin, scheme+"://")
		if ok && strings.HasSuffix(rest, host) && len(rest) > len(host) {
			return true
		}
	}
	return false
}

// CORSMiddleware answers preflights and rejects cross-origin requests from
// origins outside the policy. Requests without Origin pass through.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	policy := NewOriginPolicy(origins)

	return func(c *gin.Context) {
		h := c.Writer.Header()
		if origin := c.GetHeader("Origin"); origin != "" {
			if !policy.Allowed(origin) {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Max-Age", "86400")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
