package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// RateLimiterStore counts requests per fixed window.
type RateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy is a fixed window per client IP.
type RateLimitPolicy struct {
	Name   string
	Window time.Duration
	Max    int
	Now    func() time.Time
}

func (p RateLimitPolicy) enabled() bool {
	return p.Window > 0 && p.Max > 0
}

// windowStart truncates now to the current window so every instance shares
// one counter per window.
func (p RateLimitPolicy) windowStart() time.Time {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().UTC().Truncate(p.Window)
}

func (p RateLimitPolicy) scope(ip string, start time.Time) string {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		name = "api"
	}
	return name + ":" + ip + ":" + strconv.FormatInt(start.Unix(), 10)
}

// RateLimit rejects callers over the window budget with 429 and Retry-After.
// A store failure lets the request through.
func RateLimit(policy RateLimitPolicy, store RateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := clientIP(r)
			start := policy.windowStart()

			allowed, count, err := store.FixedWindowAllow(ctx, policy.scope(ip, start), int64(policy.Max), policy.Window)
			if err != nil {
				if logg != nil {
					logg.WarnErr(logg.WithField(ctx, "ip", ip), "rate limit store unavailable, allowing request", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				retryAfter := int(time.Until(start.Add(policy.Window)).Seconds()) + 1
				if retryAfter < 1 {
					retryAfter = 1
				}
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"ip":       ip,
						"attempts": count,
						"limit":    policy.Max,
					}), "rate_limit.blocked")
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests, please try again later"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
