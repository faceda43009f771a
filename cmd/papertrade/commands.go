package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"papertrade-go/config"
	"papertrade-go/domain"
	"papertrade-go/internal/container"
	"papertrade-go/search"
)

const (
	envFile  = ".env"
	tokenEnv = "PAPER_BACKEND_TOKEN"
)

type rootOptions struct {
	configPath string
	envPath    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "papertrade",
		Short:         "Paper trading against live quotes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml", "配置文件路径，不存在时使用默认配置")
	root.PersistentFlags().StringVar(&opts.envPath, "env", envFile, "保存登录 token 的 .env 文件")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newProfileCmd(opts),
		newPortfolioCmd(opts),
		newTradeCmd(opts, domain.SideBuy),
		newTradeCmd(opts, domain.SideSell),
		newQuoteCmd(opts),
		newSearchCmd(opts),
		newPopularCmd(opts),
		newHistoryCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// openContainer 读取配置并构建容器；配置文件缺失时退回默认配置（无热更新）。
func openContainer(opts *rootOptions) (*container.Container, error) {
	_ = godotenv.Load(opts.envPath)
	var c *container.Container
	if _, err := os.Stat(opts.configPath); err == nil {
		c, err = container.New(opts.configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg := config.Default()
		config.ApplyEnv(&cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		c = container.NewWithConfig(cfg)
	}
	if err := c.Build(); err != nil {
		return nil, err
	}
	return c, nil
}

// withContainer 一次性命令：构建、执行、释放。
func withContainer(opts *rootOptions, fn func(ctx context.Context, c *container.Container) error) error {
	c, err := openContainer(opts)
	if err != nil {
		return err
	}
	defer c.Stop()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return describe(fn(ctx, c))
}

// describe 为常见错误补充可操作的提示。
func describe(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrUnauthorized):
		return fmt.Errorf("%w (run `papertrade login` first)", err)
	case errors.Is(err, domain.ErrTradeInProgress):
		return fmt.Errorf("%w, try again", err)
	}
	return err
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the backend and store the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("PAPER_PASSWORD")
			}
			if email == "" || password == "" {
				return errors.New("--email and --password (or PAPER_PASSWORD) are required")
			}
			return withContainer(opts, func(ctx context.Context, c *container.Container) error {
				res, err := c.Login(ctx, email, password)
				if err != nil {
					return err
				}
				if err := saveToken(opts.envPath, res.Token); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s <%s>\n", res.Name, res.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "账号邮箱")
	cmd.Flags().StringVar(&password, "password", "", "密码")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := saveToken(opts.envPath, ""); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

// saveToken 更新 .env 中的 token，保留其他变量；token 为空时删除该项。
func saveToken(path, token string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read %s: %w", path, err)
		}
		env = map[string]string{}
	}
	if token == "" {
		delete(env, tokenEnv)
	} else {
		env[tokenEnv] = token
	}
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}

func newProfileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show account profile and cash balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(opts, func(ctx context.Context, c *container.Container) error {
				p, err := c.Profile(ctx)
				if err != nil {
					return err
				}
				printProfile(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
}

func newPortfolioCmd(opts *rootOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:     "portfolio",
		Aliases: []string{"summary"},
		Short:   "Value holdings at current prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(opts, func(ctx context.Context, c *container.Container) error {
				if refresh {
					if err := c.Refresh(ctx); err != nil {
						return err
					}
				}
				sum, err := c.Summary(ctx)
				if err != nil {
					return err
				}
				printSummary(cmd.OutOrStdout(), sum)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "估值前重新加载账户")
	return cmd
}

func newTradeCmd(opts *rootOptions, side domain.Side) *cobra.Command {
	verb := strings.ToLower(string(side))
	return &cobra.Command{
		Use:   verb + " SYMBOL QUANTITY",
		Short: "Market " + verb + " at the current quote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("%w: quantity %q is not a number", domain.ErrValidation, args[1])
			}
			req := domain.TradeRequest{Symbol: args[0], Side: side, Quantity: qty}
			return withContainer(opts, func(ctx context.Context, c *container.Container) error {
				rc, err := c.Trade(ctx, req)
				if err != nil {
					return err
				}
				printReceipt(cmd.OutOrStdout(), rc)
				return nil
			})
		},
	}
}

func newQuoteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL",
		Short: "Show stock details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(opts, func(ctx context.Context, c *container.Container) error {
				d, err := c.Stock(ctx, args[0])
				if err != nil {
					return err
				}
				printStocks(cmd.OutOrStdout(), []domain.StockDetails{d})
				return nil
			})
		},
	}
}

func newPopularCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "popular",
		Short: "List popular stocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(opts, func(ctx context.Context, c *container.Container) error {
				list, err := c.Popular(ctx)
				if err != nil {
					return err
				}
				printStocks(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search [QUERY]",
		Short: "Symbol autocomplete; without QUERY reads queries line by line from stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(opts, func(ctx context.Context, c *container.Container) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					return searchOnce(ctx, c, args[0], out)
				}
				return searchInteractive(ctx, c, cmd.InOrStdin(), out)
			})
		},
	}
}

// searchOnce 输入一次查询，等待其解析完成。
func searchOnce(ctx context.Context, c *container.Container, query string, out io.Writer) error {
	states := make(chan search.State, 16)
	sc := c.NewSearchController(func(st search.State) {
		select {
		case states <- st:
		default:
		}
	})
	sc.Input(query)
	if sc.State().Phase == search.PhaseIdle {
		return fmt.Errorf("%w: query %q is too short", domain.ErrValidation, query)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st := <-states:
			if st.Phase != search.PhaseResolved {
				continue
			}
			if st.Warning != "" {
				return errors.New(st.Warning)
			}
			printSuggestions(out, st.Suggestions)
			return nil
		}
	}
}

// searchInteractive 每行输入视为一次击键后的完整文本；结果在解析后打印。
func searchInteractive(ctx context.Context, c *container.Container, in io.Reader, out io.Writer) error {
	sc := c.NewSearchController(func(st search.State) {
		if st.Phase != search.PhaseResolved {
			return
		}
		fmt.Fprintf(out, "-- %s\n", st.Query)
		if st.Warning != "" {
			fmt.Fprintln(out, "   ", st.Warning)
			return
		}
		printSuggestions(out, st.Suggestions)
	})
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// 等待最后一次查询落定
				deadline := time.Now().Add(c.Config().Search.Timeout() + c.Config().Search.Debounce())
				for time.Now().Before(deadline) {
					p := sc.State().Phase
					if p == search.PhaseResolved || p == search.PhaseIdle {
						break
					}
					time.Sleep(20 * time.Millisecond)
				}
				return nil
			}
			sc.Input(line)
		}
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded trades, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(opts, func(ctx context.Context, c *container.Container) error {
				trades, err := c.Trades(ctx, limit)
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), trades)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "最多显示条数，0 表示全部")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the status server with config hot reload",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContainer(opts)
			if err != nil {
				return err
			}
			defer c.Stop()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := c.Start(ctx); err != nil {
				return err
			}
			if _, err := c.OpenSession(ctx); err != nil {
				c.Logger().Warn("session not opened", zap.Error(err))
			}
			if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				c.Logger().Warn("sd_notify failed", zap.Error(err))
			} else if ok {
				c.Logger().Debug("sd_notify ready sent")
			}

			<-ctx.Done()
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			c.Logger().Info("shutting down")
			return nil
		},
	}
}
