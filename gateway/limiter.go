package gateway

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter 控制请求速率，避免触发后端限流。*rate.Limiter 直接满足。
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// NewRateLimiter 每秒 perSecond 个请求，允许 burst 个突发。
// 非正的 perSecond 表示不限流。
func NewRateLimiter(perSecond float64, burst int) RateLimiter {
	if perSecond <= 0 {
		return noLimit{}
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

type noLimit struct{}

func (noLimit) Wait(context.Context) error { return nil }
