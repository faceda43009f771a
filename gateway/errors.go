package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"papertrade-go/domain"
)

// apiError 后端错误体 {"detail": "..."}。
type apiError struct {
	Detail string `json:"detail"`
}

// StatusError 未归类的非 2xx 响应。
type StatusError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// classifyTransport 把传输层错误映射到领域错误。
func classifyTransport(method, path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %s", domain.ErrProviderTimeout, method, path)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s %s", domain.ErrProviderTimeout, method, path)
	}
	return fmt.Errorf("%s %s: %w", method, path, err)
}

// classifyWait 限流等待失败。rate.Limiter 在等待会超过 deadline 时提前返回，
// 该错误不包装 DeadlineExceeded，这里统一归为可重试的 ErrProviderTimeout；ctx 取消照原样返回。
func classifyWait(ctx context.Context, method, path string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if _, ok := ctx.Deadline(); ok || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %s: rate limited: %w", domain.ErrProviderTimeout, method, path, err)
	}
	return fmt.Errorf("%s %s: %w", method, path, err)
}

// classifyStatus 404 未知代码，401/403 未授权，400 按 detail 区分余额/持仓/参数。
func classifyStatus(method, path string, status int, detail string) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrUnknownSymbol, firstNonEmpty(detail, path))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, firstNonEmpty(detail, "token rejected"))
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s %s", domain.ErrProviderTimeout, method, path)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		lower := strings.ToLower(detail)
		switch {
		case strings.Contains(lower, "insufficient"):
			return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, detail)
		case strings.Contains(lower, "not enough shares"):
			return fmt.Errorf("%w: %s", domain.ErrInsufficientShares, detail)
		}
		return fmt.Errorf("%w: %s", domain.ErrValidation, firstNonEmpty(detail, "bad request"))
	}
	return &StatusError{Method: method, Path: path, Status: status, Detail: detail}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
