package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/postcard-capsule/pkg/response"
)

// PerUserRateLimit 按调用方限流；空闲的 limiter 十分钟后回收
func PerUserRateLimit(perMinute, burst int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	every := rate.Every(time.Minute / time.Duration(perMinute))
	limiters := gocache.New(10*time.Minute, 10*time.Minute)

	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			key = c.ClientIP()
		}
		// Add 失败说明已存在，取已有的那个
		_ = limiters.Add(key, rate.NewLimiter(every, burst), gocache.DefaultExpiration)
		v, ok := limiters.Get(key)
		if !ok {
			c.Next()
			return
		}
		if !v.(*rate.Limiter).Allow() {
			response.TooManyRequests(c, "too many location checks, slow down")
			return
		}
		c.Next()
	}
}
