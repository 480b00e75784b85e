package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"jokes/internal/apperr"
	"jokes/internal/policy"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records handler latency by route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.RequestDuration.WithLabelValues(route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, p policy.Principal)

// requireAuth resolves the session cookie and hands the principal to next.
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.CookieName)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Please log in.", Kind: "unauthenticated", Redirect: "/auth/login"})
			return
		}
		p, err := s.svc.Authenticate(r.Context(), cookie.Value)
		if err != nil && !apperr.Is(err, apperr.KindForbidden) {
			writeError(w, err)
			return
		}
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Kind: "unauthenticated", Redirect: "/auth/login"})
			return
		}
		next(w, r, p)
	}
}

// maxLimiters bounds how many client addresses the login limiter tracks.
const maxLimiters = 10000

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// loginLimiter throttles login attempts per client address.
type loginLimiter struct {
	mu       sync.Mutex
	perMin   int
	max      int
	now      func() time.Time
	limiters map[string]*clientLimiter
}

func newLoginLimiter(perMin int, now func() time.Time) *loginLimiter {
	return &loginLimiter{perMin: perMin, max: maxLimiters, now: now, limiters: map[string]*clientLimiter{}}
}

func (l *loginLimiter) allow(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	now := l.now()

	l.mu.Lock()
	c, ok := l.limiters[host]
	if !ok {
		if len(l.limiters) >= l.max {
			l.sweep(now)
		}
		c = &clientLimiter{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)}
		l.limiters[host] = c
	}
	c.seen = now
	l.mu.Unlock()
	return c.lim.AllowN(now, 1)
}

// sweep drops clients idle for a minute, whose buckets have refilled anyway.
// If every client is recent the map starts over. Callers hold l.mu.
func (l *loginLimiter) sweep(now time.Time) {
	for host, c := range l.limiters {
		if now.Sub(c.seen) >= time.Minute {
			delete(l.limiters, host)
		}
	}
	if len(l.limiters) >= l.max {
		l.limiters = map[string]*clientLimiter{}
	}
}
