package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/lane-checkin/internal/config"
	"github.com/iliyamo/lane-checkin/internal/log"
)

// tokenBucket refills continuously at rate tokens per millisecond up to
// burst and spends one token per call. Returns {allowed, remaining,
// retry_after_ms}.
var tokenBucket = redis.NewScript(`
local burst = tonumber(ARGV[2])
local rate = tonumber(ARGV[3]) / math.max(1, tonumber(ARGV[4]))
local now = tonumber(ARGV[1])

local have = tonumber(redis.call('HGET', KEYS[1], 'tokens') or burst)
local seen = tonumber(redis.call('HGET', KEYS[1], 'at') or now)
have = math.min(burst, have + math.max(0, now - seen) * rate)

local ok, wait = 0, 0
if have >= 1 then
	ok = 1
	have = have - 1
else
	wait = math.ceil((1 - have) / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(have), 'at', now)
redis.call('EXPIRE', KEYS[1], ARGV[5])
return { ok, math.floor(have), wait }
`)

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// NewTokenBucket limits requests per key using a Redis token bucket.
// A nil client or a Redis error lets the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb redis.UniversalClient) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}
	logger := log.WithComponent("ratelimit")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			args := []any{
				time.Now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL / time.Second),
			}

			vals, err := tokenBucket.Run(c.Request().Context(), rdb, []string{key}, args...).Result()
			if err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
				return next(c)
			}
			arr, ok := vals.([]any)
			if !ok || len(arr) != 3 {
				logger.Warn().Str("key", key).Str("result", fmt.Sprintf("%#v", vals)).Msg("unexpected rate limit result")
				return next(c)
			}
			allowed := asInt64(arr[0]) == 1
			remaining := asInt64(arr[1])
			retryMs := asInt64(arr[2])

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}

			if !allowed {
				secs := int(math.Ceil(float64(retryMs) / 1000.0))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				if cfg.Debug {
					logger.Info().Str("key", key).Int64("retry_ms", retryMs).Msg("rate limited")
				}
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// buildRateKey composes the bucket key. Kiosk traffic is bucketed per lane
// so one busy kiosk cannot starve the others behind the same NAT.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	lane := c.Param("lane")
	if lane == "" {
		lane = "-"
	}
	route := c.Request().Method + " " + c.Path()

	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "principal":
		parts = append(parts, "p", principal(c))
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "lane_route":
		parts = append(parts, "lane", lane, "route", route)
	default: // ip_lane_route
		parts = append(parts, "ip", ip, "lane", lane, "route", route)
	}
	return strings.Join(parts, ":")
}
