package mw

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

type RL struct {
	mu  sync.Mutex
	m   map[string]*keyLimiter
	r   rate.Limit
	b   int
	ttl time.Duration
}

func NewRateLimiter(r rate.Limit, burst int, ttl time.Duration) *RL {
	return &RL{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl}
}

func (rl *RL) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	kl, ok := rl.m[key]
	if ok {
		kl.ts = time.Now()
		return kl.lim
	}
	lim := rate.NewLimiter(rl.r, rl.b)
	rl.m[key] = &keyLimiter{lim: lim, ts: time.Now()}
	return lim
}

// gc 定期清理闲置的 key，ctx 结束时退出。
func (rl *RL) gc(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

func (rl *RL) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, v := range rl.m {
		if now.Sub(v.ts) > rl.ttl {
			delete(rl.m, k)
		}
	}
}

// RateLimit 返回一个基于 IP+方法+路由的令牌桶限速中间件，超限时带 Retry-After。
// 后台清理随 ctx 结束而停止。
func RateLimit(ctx context.Context, r rate.Limit, burst int) gin.HandlerFunc {
	rl := NewRateLimiter(r, burst, 2*time.Minute)
	go rl.gc(ctx)
	return func(c *gin.Context) {
		ip := clientIP(c.Request.RemoteAddr)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		lim := rl.get(ip + "|" + c.Request.Method + " " + path)
		if !lim.Allow() {
			c.Header("Retry-After", retryAfter(r))
			log.Warn().Str("ip", ip).Str("path", path).Msg("rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// retryAfter 估算补充一个令牌所需的秒数，至少为 1。
func retryAfter(r rate.Limit) string {
	if r <= 0 || r == rate.Inf {
		return "1"
	}
	return strconv.Itoa(int(math.Max(1, math.Ceil(1/float64(r)))))
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
