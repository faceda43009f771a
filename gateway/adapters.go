package gateway

import (
	"context"
	"fmt"
	"time"

	"papertrade-go/domain"
)

// QuoteSource 用 /analytics/stocks/{symbol} 提供即时报价，不缓存。
type QuoteSource struct {
	Client *Client
	Now    func() time.Time
}

func (q *QuoteSource) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	d, err := q.Client.Stock(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	if !d.Price.IsPositive() {
		return domain.Quote{}, fmt.Errorf("%w: no price for %s", domain.ErrUnknownSymbol, symbol)
	}
	name := d.Name
	if name == "" {
		name = symbol
	}
	now := time.Now
	if q.Now != nil {
		now = q.Now
	}
	return domain.Quote{Symbol: domain.NormalizeSymbol(symbol), Name: name, Price: d.Price, AsOf: now()}, nil
}

// SearchSource 搜索补全。
type SearchSource struct {
	Client *Client
}

func (s *SearchSource) Search(ctx context.Context, text string) ([]domain.Suggestion, error) {
	return s.Client.Search(ctx, text)
}

// RemoteStore 以后端账户作为持久化。后端按自己的报价重新成交，
// 两边的差异在下一次 Refetch 时以后端为准。
type RemoteStore struct {
	Client *Client
}

func (r *RemoteStore) LoadPortfolio(ctx context.Context, userID string) (domain.Portfolio, error) {
	return r.Client.Portfolio(ctx)
}

func (r *RemoteStore) RecordTrade(ctx context.Context, userID string, rc domain.Receipt) error {
	var err error
	switch rc.Side {
	case domain.SideBuy:
		_, err = r.Client.Buy(ctx, rc.Symbol, rc.Quantity)
	case domain.SideSell:
		_, err = r.Client.Sell(ctx, rc.Symbol, rc.Quantity)
	default:
		err = fmt.Errorf("%w: side %q", domain.ErrValidation, rc.Side)
	}
	if err != nil {
		return fmt.Errorf("record %s %s: %w", rc.Side, rc.Symbol, err)
	}
	return nil
}
