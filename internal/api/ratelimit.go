package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	xerrors "contract-deployer/internal/errors"

	"golang.org/x/time/rate"
)

// codeRateLimited 表示客户端超出了部署请求频率。
const codeRateLimited xerrors.Code = "RATE_LIMITED"

func init() {
	xerrors.Register(codeRateLimited, xerrors.Attributes{
		Message:   "too many requests",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
	})
}

// limiterIdle 之后未再出现的客户端会被清理。
const limiterIdle = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter 为每个客户端 IP 维护一个令牌桶。
type rateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(requestsPerMin, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(requestsPerMin) / 60.0),
		burst:   burst,
		now:     time.Now,
	}
}

// allow 判断客户端是否还有可用令牌，并顺带清理长期空闲的条目。
func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > limiterIdle {
		for key, entry := range rl.clients {
			if now.Sub(entry.lastSeen) > limiterIdle {
				delete(rl.clients, key)
			}
		}
		rl.lastSweep = now
	}

	entry, ok := rl.clients[client]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// middleware 拒绝超出频率的请求，返回 429 与统一的错误体。
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	retryAfter := 60
	if rl.limit > 0 {
		retryAfter = int(time.Duration(float64(time.Second)/float64(rl.limit)).Seconds()) + 1
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, r, http.StatusTooManyRequests, xerrors.New(codeRateLimited, "请求过于频繁，请稍后重试"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
