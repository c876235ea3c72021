package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/stormstack/lightning/pkg/auth"
	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/log"
	"github.com/stormstack/lightning/pkg/metrics"
	"github.com/stormstack/lightning/pkg/types"
)

// Rate limits per principal.
const (
	requestsPerMinute = 1000
	commandsPerSecond = 100
)

// withRequestID assigns a request id and logs the request.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ctx := context.WithValue(r.Context(), ctxRequestID, id)
		w.Header().Set("X-Request-Id", id)

		timer := metrics.NewTimer()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(timer.Duration().Seconds())
		logger := log.WithComponent("api")
		logger.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", timer.Duration()).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Authenticator validates bearer credentials and attaches the resulting
// identity to the request context.
type Authenticator struct {
	gate   *auth.Gate
	apiKey string
}

// NewAuthenticator builds the auth middleware. The api key authenticates
// peer daemons and operators; match tokens authenticate players.
func NewAuthenticator(gate *auth.Gate, apiKey string) *Authenticator {
	return &Authenticator{gate: gate, apiKey: apiKey}
}

// BearerFromRequest extracts the bearer credential from the Authorization
// header, the WebSocket subprotocol list ("Bearer.<token>"), or the token
// query parameter, in that order of preference.
func BearerFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
	}
	for _, proto := range strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",") {
		proto = strings.TrimSpace(proto)
		if tok, ok := strings.CutPrefix(proto, "Bearer."); ok {
			return tok
		}
	}
	return r.URL.Query().Get("token")
}

// Require authenticates every request or rejects it with the taxonomy.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := BearerFromRequest(r)
		if bearer == "" {
			writeErr(w, r, errdefs.New(errdefs.KindInvalidCredentials, "missing bearer token"))
			return
		}
		ctx, err := a.authenticate(r.Context(), bearer)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(ctx context.Context, bearer string) (context.Context, error) {
	if a.apiKey != "" && subtle.ConstantTimeCompare([]byte(bearer), []byte(a.apiKey)) == 1 {
		return context.WithValue(ctx, ctxSuperuser, true), nil
	}
	t, err := a.gate.Validate(ctx, bearer)
	if err != nil {
		return nil, err
	}
	return context.WithValue(ctx, ctxToken, t), nil
}

// tokenFrom returns the match token attached by the middleware.
func tokenFrom(r *http.Request) *types.MatchToken {
	t, _ := r.Context().Value(ctxToken).(*types.MatchToken)
	return t
}

// isSuperuser reports whether the request authenticated with the api key.
func isSuperuser(r *http.Request) bool {
	su, _ := r.Context().Value(ctxSuperuser).(bool)
	return su
}

// principalFrom derives the acting principal for the request.
func principalFrom(r *http.Request) types.Principal {
	if isSuperuser(r) {
		return types.SuperuserPrincipal()
	}
	if t := tokenFrom(r); t != nil {
		return auth.Principal(t)
	}
	return types.Principal{}
}

// requireScope enforces a token scope; api-key callers pass everything.
func requireScope(r *http.Request, s types.Scope) error {
	if isSuperuser(r) {
		return nil
	}
	t := tokenFrom(r)
	if t == nil {
		return errdefs.New(errdefs.KindInvalidCredentials, "missing bearer token")
	}
	return auth.RequireScope(t, s)
}

// authRequireMatch rejects tokens scoped to a different match.
func authRequireMatch(t *types.MatchToken, matchID types.MatchID) error {
	return auth.RequireMatch(t, matchID)
}

// RateLimiter applies per-principal token buckets and the standard
// X-RateLimit response headers.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter allowing n events per window.
func NewRateLimiter(n int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(float64(n) / window.Seconds()),
		burst:    n,
		limiters: make(map[string]*rate.Limiter),
	}
}

// NewRequestLimiter applies the generic request budget.
func NewRequestLimiter() *RateLimiter {
	return NewRateLimiter(requestsPerMinute, time.Minute)
}

// NewCommandLimiter applies the per-container command budget.
func NewCommandLimiter() *RateLimiter {
	return NewRateLimiter(commandsPerSecond, time.Second)
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// Allow consumes one event for the key, setting the rate headers and
// returning RATE_LIMITED when the budget is spent.
func (rl *RateLimiter) Allow(w http.ResponseWriter, key string) error {
	l := rl.limiter(key)
	allowed := l.Allow()
	remaining := int(l.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))
	if !allowed {
		return errdefs.New(errdefs.KindRateLimited, "rate limit exceeded")
	}
	return nil
}

// Middleware applies the limiter keyed by principal identity.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := rl.Allow(w, principalKey(r)); err != nil {
			writeErr(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principalKey(r *http.Request) string {
	if t := tokenFrom(r); t != nil {
		return fmt.Sprintf("player:%d", t.PlayerID)
	}
	if isSuperuser(r) {
		return "superuser"
	}
	return "anon:" + r.RemoteAddr
}
