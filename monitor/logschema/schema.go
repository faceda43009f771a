package logschema

import (
	"fmt"
	"strings"
)

// 事件名 -> 必填字段。未登记的事件不做校验。
var required = map[string][]string{
	// trade
	"trade_executed":    {"id", "user", "symbol", "side", "qty", "price", "new_balance"},
	"trade_rejected":    {"symbol", "side", "reason"},
	"trade_rolled_back": {"id", "user", "symbol", "error"},
	// search
	"search_issued":    {"query", "seq"},
	"search_resolved":  {"query", "seq", "count"},
	"search_discarded": {"query", "seq", "latest"},
	// portfolio
	"valuation_partial": {"user", "missing"},
}

// MissingFieldsError 列出事件缺的字段，顺序与登记顺序一致。
type MissingFieldsError struct {
	Event   string
	Missing []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing fields: %s", strings.Join(e.Missing, ","))
}

// Validate 校验 fields 是否覆盖 event 的必填字段，缺失时返回 *MissingFieldsError。
func Validate(event string, fields map[string]interface{}) error {
	var missing []string
	for _, key := range required[event] {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if missing == nil {
		return nil
	}
	return &MissingFieldsError{Event: event, Missing: missing}
}

// Required 返回 event 的必填字段副本，未登记返回 nil。
func Required(event string) []string {
	keys, ok := required[event]
	if !ok {
		return nil
	}
	return append([]string(nil), keys...)
}
