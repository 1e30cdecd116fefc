package main

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/stenstromen/wikiexport/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultExportsPerMinute = 5

// ipLimiter hands out one token bucket per client address. perMinute
// requests are allowed in a burst, refilled evenly over a minute.
type ipLimiter struct {
	perMinute int
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
}

func newIPLimiter(perMinute int) *ipLimiter {
	return &ipLimiter{perMinute: perMinute, limiters: make(map[string]*rate.Limiter)}
}

func (l *ipLimiter) allow(addr string) bool {
	if l.perMinute <= 0 {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(r.RemoteAddr) {
			s.logger.Warn("rate limit exceeded", zap.String("remote_addr", r.RemoteAddr))
			s.reply(w, http.StatusTooManyRequests, types.ErrorBody{
				Error:   "RATE_LIMITED",
				Message: fmt.Sprintf("Rate limit exceeded: %d per 1 minute", s.limiter.perMinute),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
