package container

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"papertrade-go/domain"
	"papertrade-go/valuation"
)

// StatusHandler 状态服务：/healthz、/metrics、/portfolio/summary
func (c *Container) StatusHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", c.handleHealth)
	r.Method(http.MethodGet, "/metrics", c.monitor.Handler())
	r.Get("/portfolio/summary", c.handleSummary)
	return r
}

type healthView struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Breaker    string            `json:"backendBreaker,omitempty"`
}

func (c *Container) handleHealth(w http.ResponseWriter, r *http.Request) {
	view := healthView{Status: "ok", Components: map[string]string{}}
	for name, err := range c.lifecycle.Health() {
		if err != nil {
			view.Status = "unhealthy"
			view.Components[name] = err.Error()
			continue
		}
		view.Components[name] = "ok"
	}
	if c.breaker != nil {
		view.Breaker = c.breaker.State().String()
	}
	code := http.StatusOK
	if view.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, view)
}

type rowView struct {
	Symbol          string  `json:"symbol"`
	Name            string  `json:"name"`
	Quantity        string  `json:"quantity"`
	AvgCost         string  `json:"avgCost"`
	CurrentPrice    *string `json:"currentPrice"`
	Value           string  `json:"value"`
	GainLoss        string  `json:"gainLoss"`
	GainLossPercent string  `json:"gainLossPercent"`
}

type summaryView struct {
	Balance         string    `json:"balance"`
	TotalValue      string    `json:"totalValue"`
	TotalCost       string    `json:"totalCost"`
	GainLoss        string    `json:"gainLoss"`
	GainLossPercent string    `json:"gainLossPercent"`
	BestPerformer   *string   `json:"bestPerformer"`
	Partial         bool      `json:"partial"`
	Missing         []string  `json:"missing,omitempty"`
	Holdings        []rowView `json:"holdings"`
}

func newSummaryView(s valuation.Summary) summaryView {
	v := summaryView{
		Balance:         s.Balance.StringFixed(2),
		TotalValue:      s.TotalValue.StringFixed(2),
		TotalCost:       s.TotalCost.StringFixed(2),
		GainLoss:        s.GainLoss.StringFixed(2),
		GainLossPercent: s.GainLossPercent.StringFixed(2),
		Partial:         s.Partial,
		Missing:         s.Missing,
		Holdings:        make([]rowView, 0, len(s.Rows)),
	}
	if s.BestPerformer != "" {
		best := s.BestPerformer
		v.BestPerformer = &best
	}
	for _, row := range s.Rows {
		rv := rowView{
			Symbol:          row.Symbol,
			Name:            row.Name,
			Quantity:        row.Quantity.String(),
			AvgCost:         row.AvgCost.StringFixed(2),
			Value:           row.Value.StringFixed(2),
			GainLoss:        row.GainLoss.StringFixed(2),
			GainLossPercent: row.GainLossPercent.StringFixed(2),
		}
		if row.Priced {
			px := row.CurrentPrice.StringFixed(2)
			rv.CurrentPrice = &px
		}
		v.Holdings = append(v.Holdings, rv)
	}
	return v
}

func (c *Container) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := c.Summary(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, map[string]string{"error": err.Error(), "kind": domain.Kind(err)})
		return
	}
	writeJSON(w, http.StatusOK, newSummaryView(sum))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
