package config

import "fmt"

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if cfg.UserID == "" {
		return ErrInvalid("userID is required")
	}
	// 报价与搜索始终来自后端，sqlite 只替代账户持久化。
	if cfg.Backend.BaseURL == "" {
		return ErrInvalid("backend.baseURL is required (or PAPER_BACKEND_URL)")
	}
	switch cfg.Store.Driver {
	case DriverRemote:
	case DriverSQLite:
		if cfg.Store.Path == "" {
			return ErrInvalid("store.path is required for store.driver=sqlite (or PAPER_STORE_PATH)")
		}
	default:
		return ErrInvalid(fmt.Sprintf("store.driver must be remote or sqlite, got %q", cfg.Store.Driver))
	}
	if cfg.Store.InitialBalance <= 0 {
		return ErrInvalid("store.initialBalance must be > 0")
	}
	if cfg.Backend.TimeoutMs < 0 {
		return ErrInvalid("backend.timeoutMs must be >= 0")
	}
	if cfg.Backend.RateLimit < 0 || cfg.Backend.Burst < 0 {
		return ErrInvalid("backend.rateLimit/burst must be >= 0")
	}
	if cfg.Backend.BreakerThreshold < 0 || cfg.Backend.BreakerCooldownMs < 0 {
		return ErrInvalid("backend.breakerThreshold/breakerCooldownMs must be >= 0")
	}
	if err := ValidateTrade(cfg.Trade); err != nil {
		return err
	}
	if err := ValidateSearch(cfg.Search); err != nil {
		return err
	}
	switch cfg.Log.Output {
	case "stdout", "file", "both":
	default:
		return ErrInvalid(fmt.Sprintf("log.output must be stdout, file or both, got %q", cfg.Log.Output))
	}
	if cfg.Log.Output != "stdout" && cfg.Log.File == "" {
		return ErrInvalid("log.file is required when log.output writes to a file")
	}
	return nil
}

// ValidateTrade 可热更新的交易参数。
func ValidateTrade(t TradeConfig) error {
	if t.OnConflict != "queue" && t.OnConflict != "reject" {
		return ErrInvalid(fmt.Sprintf("trade.onConflict must be queue or reject, got %q", t.OnConflict))
	}
	if t.QuoteTimeoutMs <= 0 {
		return ErrInvalid("trade.quoteTimeoutMs must be > 0")
	}
	return nil
}

// ValidateSearch 可热更新的搜索参数。
func ValidateSearch(s SearchConfig) error {
	if s.DebounceMs <= 0 {
		return ErrInvalid("search.debounceMs must be > 0")
	}
	if s.MinLength < 1 {
		return ErrInvalid("search.minLength must be >= 1")
	}
	if s.MaxResults < 1 {
		return ErrInvalid("search.maxResults must be >= 1")
	}
	if s.TimeoutMs <= 0 {
		return ErrInvalid("search.timeoutMs must be > 0")
	}
	return nil
}
