package app

import (
	"strings"
	"time"

	"github.com/ggonzalez94/hubroute/internal/amount"
	"github.com/ggonzalez94/hubroute/internal/chain"
	"github.com/ggonzalez94/hubroute/internal/chain/signer"
	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/ggonzalez94/hubroute/internal/hub"
	"github.com/ggonzalez94/hubroute/internal/logging"
	"github.com/ggonzalez94/hubroute/internal/model"
	"github.com/ggonzalez94/hubroute/internal/quote"
	"github.com/ggonzalez94/hubroute/internal/telemetry"
	"github.com/ggonzalez94/hubroute/internal/token"
	"github.com/spf13/cobra"
)

// tradeFlags are shared by every command that prices a swap.
type tradeFlags struct {
	from    string
	to      string
	amount  string
	dexOut  string
	fromUSD string
	toUSD   string
	qs      string
	keySrc  string
}

func (f *tradeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "Token to sell (symbol, native, address or address:decimals[:symbol])")
	cmd.Flags().StringVar(&f.to, "to", "", "Token to buy")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Amount to sell in human units")
	cmd.Flags().StringVar(&f.dexOut, "dex-out", "", "Competing DEX output in human units of the buy token")
	cmd.Flags().StringVar(&f.fromUSD, "from-usd", "", "USD price of the sell token")
	cmd.Flags().StringVar(&f.toUSD, "to-usd", "", "USD price of the buy token")
	cmd.Flags().StringVar(&f.qs, "qs", "", "Opaque query string forwarded to the hub")
	cmd.Flags().StringVar(&f.keySrc, "key-source", "", "Signer key source (auto|env|file|keystore)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
}

type trade struct {
	chain      token.Chain
	from       token.Token
	to         token.Token
	amountIn   string
	amountBase string
	dexBase    string
	flags      tradeFlags
}

func (s *runtimeState) parseTrade(f tradeFlags) (trade, error) {
	c, err := token.ParseChain(s.settings.Chain)
	if err != nil {
		return trade{}, err
	}
	s.lastChainID = c.ID
	from, err := token.Parse(f.from, c)
	if err != nil {
		return trade{}, err
	}
	to, err := token.Parse(f.to, c)
	if err != nil {
		return trade{}, err
	}
	if strings.EqualFold(from.ProtocolAddress(), to.ProtocolAddress()) {
		return trade{}, clierr.New(clierr.CodeUsage, "--from and --to must be different tokens")
	}
	base, err := amount.ToBaseUnits(from.Decimals, f.amount)
	if err != nil {
		return trade{}, err
	}
	if !amount.IsPositive(base) {
		return trade{}, clierr.New(clierr.CodeInvalidAmount, "amount rounds to zero base units")
	}
	t := trade{chain: c, from: from, to: to, amountIn: strings.TrimSpace(f.amount), amountBase: base, flags: f}
	if strings.TrimSpace(f.dexOut) != "" {
		if t.dexBase, err = amount.ToBaseUnits(to.Decimals, f.dexOut); err != nil {
			return trade{}, err
		}
	}
	return t, nil
}

// account resolves the trading account: --account first, then the
// configured signer.
func (s *runtimeState) account(keySource string) (string, error) {
	if acct := strings.TrimSpace(s.settings.Account); acct != "" {
		return acct, nil
	}
	txSigner, err := s.loadSigner(keySource)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, "an account is required: pass --account or configure a signer key", err)
	}
	return txSigner.Address().Hex(), nil
}

func (s *runtimeState) loadSigner(keySource string) (*signer.LocalSigner, error) {
	if strings.TrimSpace(keySource) == "" {
		keySource = s.settings.KeySource
	}
	txSigner, err := signer.NewLocalSignerFromEnv(keySource)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load signer", err)
	}
	return txSigner, nil
}

func (s *runtimeState) newHubClient() *hub.Client {
	return hub.New(hub.Options{
		BaseURL: s.settings.APIURL,
		Timeout: s.settings.Timeout,
		Retries: s.settings.Retries,
	}, logging.Component(s.log, "hub"))
}

func (s *runtimeState) newSink(t trade, account string) *telemetry.Sink {
	sink := telemetry.NewSink(telemetry.Options{
		Endpoint: s.settings.BIEndpoint,
		Disabled: s.settings.TelemetryDisabled,
		Timeout:  s.settings.Timeout,
		Receipts: chain.DefaultAwaitOptions(),
	}, s.metrics, logging.Component(s.log, "telemetry"))
	sink.Init(s.settings.Partner, t.chain.ID)
	sink.InitSwap(telemetry.InitSwapArgs{
		SrcToken:      t.from,
		DstToken:      t.to,
		SrcAmount:     t.amountBase,
		DexAmountOut:  t.dexBase,
		DstTokenUSD:   t.flags.toUSD,
		Slippage:      s.settings.Slippage,
		WalletAddress: account,
	})
	return sink
}

func (s *runtimeState) newPoller(h quote.Quoter, sink *telemetry.Sink, gate quote.GateFunc) *quote.Poller {
	return quote.New(h, sink, s.metrics, quote.Options{Interval: s.settings.QuoteInterval, Gate: gate}, logging.Component(s.log, "quote"))
}

func (s *runtimeState) quoteParams(t trade, account string) quote.Params {
	return quote.Params{
		ChainID:    t.chain.ID,
		Partner:    s.settings.Partner,
		Account:    account,
		FromToken:  token.Token{Address: t.from.ProtocolAddress(), Decimals: t.from.Decimals, Symbol: t.from.Symbol},
		ToToken:    token.Token{Address: t.to.ProtocolAddress(), Decimals: t.to.Decimals, Symbol: t.to.Symbol},
		FromAmount: t.amountBase,
		DexOut:     t.dexBase,
		Slippage:   s.settings.Slippage,
		QS:         t.flags.qs,
	}
}

func quoteResult(t trade, q *hub.Quote, slippage float64, latency time.Duration) model.QuoteResult {
	res := model.QuoteResult{
		Chain:        t.chain,
		FromToken:    t.from,
		ToToken:      t.to,
		AmountIn:     t.amountIn,
		AmountInBase: t.amountBase,
		DexOutAmount: amount.ToHumanUnits(t.to.Decimals, t.dexBase),
		LatencyMS:    latency.Milliseconds(),
	}
	if q == nil {
		return res
	}
	res.OutAmountBase = q.OutAmount
	res.OutAmount = amount.ToHumanUnits(t.to.Decimals, q.OutAmount)
	res.MinAmountOut = amount.ToHumanUnits(t.to.Decimals, amount.ApplySlippageDown(q.OutAmount, slippage))
	res.PriceImprovement = amount.PercentDiff(q.OutAmount, t.dexBase)
	res.NoLiquidity = q.IsZero()
	res.SessionID = q.SessionID
	return res
}
