package search

import "papertrade-go/domain"

// Phase 输入框的查询状态。
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePendingDebounce
	PhaseInFlight
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhasePendingDebounce:
		return "PENDING_DEBOUNCE"
	case PhaseInFlight:
		return "IN_FLIGHT"
	case PhaseResolved:
		return "RESOLVED"
	default:
		return "UNKNOWN"
	}
}

// State 控制器状态快照。Rev 单调递增，监听方可据此丢弃乱序通知。
type State struct {
	Phase       Phase
	Query       string
	Seq         uint64
	Suggestions []domain.Suggestion
	// Warning 最近一次查询失败的原因（非致命）。
	Warning string
	Rev     uint64
}

func (s State) clone() State {
	if s.Suggestions != nil {
		s.Suggestions = append([]domain.Suggestion(nil), s.Suggestions...)
	}
	return s
}
