// Package store 本地 SQLite 持久化，离线模式下替代后端账户。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"papertrade-go/domain"
)

// DefaultInitialBalance 新账户的虚拟资金。
var DefaultInitialBalance = decimal.NewFromInt(100000)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id    TEXT PRIMARY KEY,
	balance    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS holdings (
	user_id  TEXT NOT NULL,
	symbol   TEXT NOT NULL,
	name     TEXT NOT NULL,
	quantity TEXT NOT NULL,
	avg_cost TEXT NOT NULL,
	seq      INTEGER NOT NULL,
	PRIMARY KEY (user_id, symbol)
);
CREATE TABLE IF NOT EXISTS trades (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	name          TEXT NOT NULL,
	side          TEXT NOT NULL,
	quantity      TEXT NOT NULL,
	price         TEXT NOT NULL,
	balance_after TEXT NOT NULL,
	executed_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, executed_at);
`

// SQLiteStore 实现 LoadPortfolio / RecordTrade。
type SQLiteStore struct {
	db             *sql.DB
	initialBalance decimal.Decimal
	now            func() time.Time
}

type Option func(*SQLiteStore)

// WithInitialBalance 覆盖新账户初始资金。
func WithInitialBalance(b decimal.Decimal) Option {
	return func(s *SQLiteStore) {
		if b.IsPositive() {
			s.initialBalance = b
		}
	}
}

// Open 打开（必要时创建）数据库文件；path 为 ":memory:" 时使用内存库。
func Open(path string, opts ...Option) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve store path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		dsn = abs + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// 单连接：内存库每个连接是独立数据库，文件库也只有一个写者。
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s := &SQLiteStore{db: db, initialBalance: DefaultInitialBalance, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadPortfolio 读取余额与持仓（按建仓顺序）；新用户自动开户。
func (s *SQLiteStore) LoadPortfolio(ctx context.Context, userID string) (domain.Portfolio, error) {
	if userID == "" {
		return domain.Portfolio{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (user_id, balance, created_at) VALUES (?, ?, ?)`,
		userID, s.initialBalance.String(), s.now().UnixNano()); err != nil {
		return domain.Portfolio{}, fmt.Errorf("ensure account %s: %w", userID, err)
	}

	var balanceText string
	if err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&balanceText); err != nil {
		return domain.Portfolio{}, fmt.Errorf("load balance %s: %w", userID, err)
	}
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("parse balance %q: %w", balanceText, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, name, quantity, avg_cost FROM holdings WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("load holdings %s: %w", userID, err)
	}
	defer rows.Close()

	out := domain.Portfolio{Balance: balance, Holdings: []domain.Holding{}}
	for rows.Next() {
		var sym, name, qty, cost string
		if err := rows.Scan(&sym, &name, &qty, &cost); err != nil {
			return domain.Portfolio{}, err
		}
		h := domain.Holding{Symbol: sym, Name: name}
		if h.Quantity, err = decimal.NewFromString(qty); err != nil {
			return domain.Portfolio{}, fmt.Errorf("parse quantity %s: %w", sym, err)
		}
		if h.AvgCost, err = decimal.NewFromString(cost); err != nil {
			return domain.Portfolio{}, fmt.Errorf("parse avg cost %s: %w", sym, err)
		}
		out.Holdings = append(out.Holdings, h)
	}
	return out, rows.Err()
}

// RecordTrade 在一个事务内写入余额、持仓与成交记录。
func (s *SQLiteStore) RecordTrade(ctx context.Context, userID string, r domain.Receipt) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (user_id, balance, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(user_id) DO UPDATE SET balance = excluded.balance`,
			userID, r.NewBalance.String(), s.now().UnixNano()); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if r.Position == nil {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM holdings WHERE user_id = ? AND symbol = ?`, userID, r.Symbol); err != nil {
				return fmt.Errorf("delete holding: %w", err)
			}
		} else {
			p := r.Position
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO holdings (user_id, symbol, name, quantity, avg_cost, seq)
				 VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM holdings WHERE user_id = ?))
				 ON CONFLICT(user_id, symbol) DO UPDATE SET
				   name = excluded.name, quantity = excluded.quantity, avg_cost = excluded.avg_cost`,
				userID, p.Symbol, p.Name, p.Quantity.String(), p.AvgCost.String(), userID); err != nil {
				return fmt.Errorf("upsert holding: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trades (id, user_id, symbol, name, side, quantity, price, balance_after, executed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, userID, r.Symbol, r.Name, string(r.Side), r.Quantity.String(), r.ExecPrice.String(),
			r.NewBalance.String(), r.ExecutedAt.UnixNano()); err != nil {
			return fmt.Errorf("insert trade %s: %w", r.ID, err)
		}
		return nil
	})
}

// Trades 最近的成交记录，新的在前；limit<=0 表示全部。
func (s *SQLiteStore) Trades(ctx context.Context, userID string, limit int) ([]domain.Receipt, error) {
	q := `SELECT id, symbol, name, side, quantity, price, balance_after, executed_at
	      FROM trades WHERE user_id = ? ORDER BY executed_at DESC, rowid DESC`
	args := []interface{}{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.Receipt
	for rows.Next() {
		var (
			r                  domain.Receipt
			side, qty, px, bal string
			executedAt         int64
		)
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Name, &side, &qty, &px, &bal, &executedAt); err != nil {
			return nil, err
		}
		r.UserID = userID
		r.Side = domain.Side(side)
		r.ExecutedAt = time.Unix(0, executedAt).UTC()
		if r.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if r.ExecPrice, err = decimal.NewFromString(px); err != nil {
			return nil, err
		}
		if r.NewBalance, err = decimal.NewFromString(bal); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}
