package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures CORS.
type CORSConfig struct {
	// AllowOrigins lists allowed origins, matched case-insensitively. Empty
	// or containing "*" allows any origin.
	AllowOrigins []string
	// AllowMethods defaults to GET, POST, DELETE and OPTIONS.
	AllowMethods []string
	// AllowHeaders is sent on preflight responses. When empty the requested
	// headers are echoed back.
	AllowHeaders []string
	// ExposeHeaders lists response headers readable by browser scripts.
	ExposeHeaders []string
	// AllowCredentials permits cookies and auth headers. With it, a wildcard
	// origin is answered by echoing the request origin instead of "*".
	AllowCredentials bool
	// MaxAge caches preflight results for that many seconds. Zero omits the
	// header.
	MaxAge int
}

type corsPolicy struct {
	any         bool
	echoAny     bool
	origins     map[string]string
	methods     string
	headers     string
	expose      string
	credentials bool
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		any:         len(cfg.AllowOrigins) == 0,
		origins:     make(map[string]string, len(cfg.AllowOrigins)),
		methods:     "GET, POST, DELETE, OPTIONS",
		headers:     strings.Join(cfg.AllowHeaders, ", "),
		expose:      strings.Join(cfg.ExposeHeaders, ", "),
		credentials: cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			p.any = true
			continue
		}
		p.origins[strings.ToLower(o)] = o
	}
	if p.any && p.credentials {
		p.echoAny = true
	}
	if len(cfg.AllowMethods) > 0 {
		p.methods = strings.Join(cfg.AllowMethods, ", ")
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when it is not allowed.
func (p *corsPolicy) allowOrigin(origin string) string {
	switch {
	case p.echoAny:
		return origin
	case p.any:
		return "*"
	default:
		return p.origins[strings.ToLower(origin)]
	}
}

// varyOrigin reports whether responses differ by Origin.
func (p *corsPolicy) varyOrigin() bool {
	return !p.any || p.echoAny
}

func (p *corsPolicy) preflight(w http.ResponseWriter, r *http.Request, allow string) {
	h := w.Header()
	if !p.varyOrigin() {
		h.Add("Vary", "Origin")
	}
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")
	if allow != "" {
		h.Set("Access-Control-Allow-Origin", allow)
		h.Set("Access-Control-Allow-Methods", p.methods)
		if p.headers != "" {
			h.Set("Access-Control-Allow-Headers", p.headers)
		} else if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
			h.Set("Access-Control-Allow-Headers", req)
		}
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if p.maxAge != "" {
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// CORS answers preflight requests itself and decorates actual cross-origin
// responses. Disallowed origins get no CORS headers, so the browser blocks
// the response.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if p.varyOrigin() {
				w.Header().Add("Vary", "Origin")
			}
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allow := p.allowOrigin(origin)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, r, allow)
				return
			}

			if allow != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allow)
				if p.credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if p.expose != "" {
					h.Set("Access-Control-Expose-Headers", p.expose)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
