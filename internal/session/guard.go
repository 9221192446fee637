package session

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cellar/internal/domain"
)

// Decision is the outcome of a route check.
type Decision int

const (
	Allow Decision = iota
	RequireLogin
	RequireAdmin
)

var DefaultProtected = []string{"/cart", "/checkout", "/account", "/notifications"}

const adminPrefix = "/admin"

// Guard decides which routes need a session and which need the admin role.
type Guard struct {
	protected []string
	now       func() time.Time
}

func NewGuard(protected ...string) *Guard {
	if len(protected) == 0 {
		protected = DefaultProtected
	}
	return &Guard{protected: protected, now: time.Now}
}

// SetClock replaces the time source used to judge token expiry.
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

// Check treats a session with a malformed or expired token as no session.
func (g *Guard) Check(path string, s *domain.Session) Decision {
	signedIn := g.active(s)
	if strings.HasPrefix(path, adminPrefix) {
		if !signedIn {
			return RequireLogin
		}
		if !s.IsAdmin() {
			return RequireAdmin
		}
		return Allow
	}
	for _, p := range g.protected {
		if underPath(path, p) && !signedIn {
			return RequireLogin
		}
	}
	return Allow
}

func (g *Guard) active(s *domain.Session) bool {
	if s == nil {
		return false
	}
	claims, err := Decode(s.AccessToken)
	return err == nil && !claims.Expired(g.now())
}

// Redirect returns where a denied request for path should go.
func Redirect(d Decision, path string) string {
	switch d {
	case RequireLogin:
		return "/login?redirect=" + url.QueryEscape(path)
	case RequireAdmin:
		return "/"
	default:
		return ""
	}
}

// Middleware gates next using the session resolved from each request.
func (g *Guard) Middleware(resolve func(*http.Request) *domain.Session) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Check(r.URL.Path, resolve(r))
			if d != Allow {
				http.Redirect(w, r, Redirect(d, r.URL.RequestURI()), http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// FromRequest builds a session from a bearer header or a token cookie.
// Expired or malformed tokens resolve to no session.
func FromRequest(r *http.Request) *domain.Session {
	token := ""
	if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
		token = parts[1]
	} else if c, err := r.Cookie("token"); err == nil {
		token = c.Value
	}
	claims, err := Decode(token)
	if err != nil || claims.Expired(time.Now()) {
		return nil
	}
	return &domain.Session{AccessToken: token, User: claims.User()}
}

// underPath matches whole segments so /cartography is not under /cart.
func underPath(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
