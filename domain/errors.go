package domain

import "errors"

var (
	ErrValidation         = errors.New("validation error")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrProviderTimeout    = errors.New("provider timeout")
	ErrPersistenceFailed  = errors.New("persistence failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTradeInProgress    = errors.New("trade in progress")
)

// IsRetryable 调用方可以原样重试的错误：未发生任何部分变更。
// 持久化失败即使原因是超时也不可重试，远端可能已经成交。
func IsRetryable(err error) bool {
	if errors.Is(err, ErrPersistenceFailed) {
		return false
	}
	return errors.Is(err, ErrUnknownSymbol) ||
		errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrTradeInProgress)
}

// Kind 返回错误所属分类名，用于日志与指标标签。
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrPersistenceFailed):
		return "persistence_failed"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrUnknownSymbol):
		return "unknown_symbol"
	case errors.Is(err, ErrProviderTimeout):
		return "provider_timeout"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTradeInProgress):
		return "trade_in_progress"
	default:
		return "internal"
	}
}
