package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ggonzalez94/hubroute/internal/allowance"
	"github.com/ggonzalez94/hubroute/internal/amount"
	"github.com/ggonzalez94/hubroute/internal/chain"
	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/ggonzalez94/hubroute/internal/logging"
	"github.com/ggonzalez94/hubroute/internal/metrics"
	"github.com/ggonzalez94/hubroute/internal/model"
	"github.com/ggonzalez94/hubroute/internal/out"
	"github.com/ggonzalez94/hubroute/internal/quote"
	"github.com/ggonzalez94/hubroute/internal/registry"
	"github.com/ggonzalez94/hubroute/internal/routing"
	"github.com/ggonzalez94/hubroute/internal/swap"
	"github.com/ggonzalez94/hubroute/internal/token"
	"github.com/spf13/cobra"
)

func (s *runtimeState) requirePartner() error {
	if strings.TrimSpace(s.settings.Partner) == "" {
		return clierr.New(clierr.CodeUsage, "a partner is required: pass --partner or set HUBROUTE_PARTNER")
	}
	return nil
}

// fetchQuote prices t once. A zero quote is reported, not returned as an
// error, so callers can still route to the DEX.
func (s *runtimeState) fetchQuote(ctx context.Context, t trade, account string) (model.QuoteResult, error) {
	sink := s.newSink(t, account)
	defer sink.Wait()
	poller := s.newPoller(s.newHubClient(), sink, nil)
	start := time.Now()
	q, err := poller.Fetch(ctx, s.quoteParams(t, account))
	if err != nil {
		return model.QuoteResult{}, err
	}
	res := quoteResult(t, q, s.settings.Slippage, time.Since(start))
	if res.NoLiquidity {
		s.warn("hub has no liquidity for this pair")
	}
	return res, nil
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var f tradeFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Fetch one hub quote for a swap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.requirePartner(); err != nil {
				return err
			}
			t, err := s.parseTrade(f)
			if err != nil {
				return err
			}
			account, err := s.account(f.keySrc)
			if err != nil {
				return err
			}
			start := time.Now()
			res, err := s.fetchQuote(commandContext(cmd), t, account)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, time.Since(start))
		},
	}
	f.register(cmd)
	return cmd
}

// readOnlyChain dials the configured rpc without a signer.
func (s *runtimeState) readOnlyChain(ctx context.Context, chainID int64, account string) (*chain.EVM, error) {
	rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, chainID)
	if err != nil {
		return nil, err
	}
	opts := chain.DefaultTxOptions()
	opts.Account = account
	return chain.Dial(ctx, rpcURL, nil, opts, logging.Component(s.log, "chain"))
}

// spendToken is what the hub pulls from the account: the wrapped token when
// selling the native asset.
func spendToken(t trade) (token.Token, bool) {
	if !t.from.IsNative() {
		return t.from, true
	}
	wrapped, ok := registry.WrappedNative(t.chain.ID)
	if !ok {
		return token.Token{}, false
	}
	return token.Token{Address: wrapped, Decimals: t.from.Decimals, Symbol: "W" + t.from.Symbol}, true
}

func (s *runtimeState) newRouteCommand() *cobra.Command {
	var f tradeFlags
	var skipAllowance bool
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Decide whether the hub or the DEX should execute a swap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.requirePartner(); err != nil {
				return err
			}
			t, err := s.parseTrade(f)
			if err != nil {
				return err
			}
			account, err := s.account(f.keySrc)
			if err != nil {
				return err
			}
			store, err := s.ensurePrefs()
			if err != nil {
				return err
			}
			p, err := store.Load()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			start := time.Now()

			res := model.RouteResult{Control: string(p.Control), HubEnabled: p.HubEnabled}
			if p.HubEnabled && p.Control != routing.ControlSkip {
				if res.Quote, err = s.fetchQuote(ctx, t, account); err != nil {
					return err
				}
			} else {
				res.Quote = quoteResult(t, nil, s.settings.Slippage, 0)
			}
			owner := routing.Resolve(routing.Inputs{
				HubOut:     res.Quote.OutAmountBase,
				DexOut:     t.dexBase,
				Control:    p.Control,
				HubEnabled: p.HubEnabled,
			})
			res.Owner = string(owner)
			s.metrics.OwnerDecision(string(owner))

			if owner == routing.OwnerHub && !skipAllowance {
				res.Approved = s.checkApproval(ctx, t, account)
			}
			res.ButtonText = swap.ButtonText(t.from.IsNative(), res.Approved)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, time.Since(start))
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&skipAllowance, "skip-allowance", false, "Do not read the on-chain allowance")
	return cmd
}

// checkApproval fails closed: any rpc problem reads as not approved.
func (s *runtimeState) checkApproval(ctx context.Context, t trade, account string) bool {
	spend, ok := spendToken(t)
	if !ok {
		s.warn("no wrapped native token is known for this chain")
		return false
	}
	evm, err := s.readOnlyChain(ctx, t.chain.ID, account)
	if err != nil {
		s.warn("allowance not checked: " + err.Error())
		return false
	}
	defer evm.Close()
	checker := allowance.New(evm, allowance.Options{}, logging.Component(s.log, "allowance"))
	return checker.Check(ctx, spend, t.amountBase)
}

func (s *runtimeState) newWatchCommand() *cobra.Command {
	var f tradeFlags
	var ticks int
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll hub quotes and stream the routing decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.requirePartner(); err != nil {
				return err
			}
			t, err := s.parseTrade(f)
			if err != nil {
				return err
			}
			account, err := s.account(f.keySrc)
			if err != nil {
				return err
			}
			store, err := s.ensurePrefs()
			if err != nil {
				return err
			}
			p, err := store.Load()
			if err != nil {
				return err
			}
			if !p.HubEnabled || p.Control == routing.ControlSkip {
				s.warn("hub routing is disabled; no quotes will be requested")
			}

			addr := s.settings.MetricsAddr
			if strings.TrimSpace(metricsAddr) != "" {
				addr = metricsAddr
			}
			srv := metrics.NewServer(addr, s.registry)
			go func() {
				if err := srv.Start(); err != nil {
					s.log.Error().Err(err).Str("addr", addr).Msg("metrics endpoint stopped")
				}
			}()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Stop(stopCtx)
			}()

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			sink := s.newSink(t, account)
			defer sink.Wait()
			gate := func() quote.GateState {
				return quote.GateState{HubEnabled: p.HubEnabled && p.Control != routing.ControlSkip}
			}
			poller := s.newPoller(s.newHubClient(), sink, gate)

			seen := 0
			for res := range poller.Poll(ctx, s.quoteParams(t, account)) {
				tick := model.WatchTick{At: res.At.UTC(), DexOutAmount: amount.ToHumanUnits(t.to.Decimals, t.dexBase)}
				if res.Err != nil {
					tick.Error = res.Err.Error()
				} else {
					tick.OutAmount = amount.ToHumanUnits(t.to.Decimals, res.Quote.OutAmount)
					tick.PriceImprovement = amount.PercentDiff(res.Quote.OutAmount, t.dexBase)
				}
				hubOut := ""
				if res.Quote != nil {
					hubOut = res.Quote.OutAmount
				}
				owner := routing.Resolve(routing.Inputs{HubOut: hubOut, DexOut: t.dexBase, Control: p.Control, HubEnabled: p.HubEnabled})
				tick.Owner = string(owner)
				s.metrics.OwnerDecision(string(owner))
				if err := out.RenderLine(s.runner.stdout, tick, s.settings); err != nil {
					return clierr.Wrap(clierr.CodeInternal, "write tick", err)
				}
				seen++
				if ticks > 0 && seen >= ticks {
					cancel()
				}
			}
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&ticks, "ticks", 0, "Stop after this many quotes (0 runs until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while watching")
	return cmd
}
