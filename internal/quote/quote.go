// Package quote polls the hub for a competing quote while the trade inputs
// are stable and hub routing is enabled.
package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ggonzalez94/hubroute/internal/amount"
	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/ggonzalez94/hubroute/internal/hub"
	"github.com/ggonzalez94/hubroute/internal/metrics"
	"github.com/ggonzalez94/hubroute/internal/telemetry"
	"github.com/ggonzalez94/hubroute/internal/token"
	"github.com/rs/zerolog"
)

const DefaultInterval = 10 * time.Second

// Quoter is the hub capability the poller needs.
type Quoter interface {
	Quote(ctx context.Context, req hub.QuoteRequest) (*hub.Quote, error)
}

type Params struct {
	ChainID    int64
	Partner    string
	Account    string
	FromToken  token.Token
	ToToken    token.Token
	FromAmount string // base units
	DexOut     string // base units, "" when unknown
	Slippage   float64
	// QS is forwarded verbatim as the request's "qs" field.
	QS string
}

// GateState is the live state a tick checks before quoting.
type GateState struct {
	CircuitOpen bool
	HubEnabled  bool
	WizardOpen  bool
}

type GateFunc func() GateState

// Enabled reports whether a tick may quote.
func Enabled(p Params, g GateState) bool {
	return p.Partner != "" &&
		p.ChainID != 0 &&
		p.FromToken.Address != "" &&
		p.ToToken.Address != "" &&
		amount.IsPositive(p.FromAmount) &&
		!g.CircuitOpen &&
		g.HubEnabled &&
		!g.WizardOpen
}

type Result struct {
	Quote *hub.Quote
	Err   error
	At    time.Time
}

type Options struct {
	Interval time.Duration
	Gate     GateFunc
}

type Poller struct {
	hub      Quoter
	sink     *telemetry.Sink
	metrics  *metrics.Metrics
	interval time.Duration
	gate     GateFunc
	log      zerolog.Logger
}

func New(q Quoter, sink *telemetry.Sink, m *metrics.Metrics, opts Options, log zerolog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Gate == nil {
		opts.Gate = func() GateState { return GateState{HubEnabled: true} }
	}
	return &Poller{hub: q, sink: sink, metrics: m, interval: opts.Interval, gate: opts.Gate, log: log}
}

// Fetch runs one quote request. A "trade not supported" answer becomes a
// zero quote rather than an error.
func (p *Poller) Fetch(ctx context.Context, params Params) (*hub.Quote, error) {
	if params.ChainID == 0 || params.FromToken.Address == "" || params.ToToken.Address == "" {
		return nil, clierr.New(clierr.CodeUsage, "quote requires chain and both tokens")
	}
	if !amount.IsPositive(params.FromAmount) {
		return nil, clierr.New(clierr.CodeUsage, "quote requires a positive amount")
	}
	p.sink.OnQuoteRequest(params.DexOut)
	start := time.Now()
	q, err := p.hub.Quote(ctx, hub.QuoteRequest{
		ChainID:   params.ChainID,
		InToken:   params.FromToken.Address,
		OutToken:  params.ToToken.Address,
		InAmount:  params.FromAmount,
		OutAmount: params.DexOut,
		User:      params.Account,
		Slippage:  params.Slippage,
		QS:        params.QS,
		Partner:   params.Partner,
		SessionID: p.sink.SessionID(),
	})
	latency := time.Since(start)
	chainLabel := fmt.Sprintf("%d", params.ChainID)

	switch {
	case errors.Is(err, hub.ErrTradeNotSupported):
		p.sink.OnQuoteFailed(hub.ErrTradeNotSupported.Error(), latency, nil)
		p.metrics.ObserveQuote(chainLabel, latency, "no_liquidity")
		return &hub.Quote{OutAmount: "0"}, nil
	case err != nil:
		if ctx.Err() != nil {
			return nil, err
		}
		p.sink.OnQuoteFailed(err.Error(), latency, nil)
		p.metrics.ObserveQuote(chainLabel, latency, "error")
		p.log.Debug().Err(err).Str("chain", chainLabel).Msg("quote failed")
		return nil, err
	}
	p.sink.SetSessionID(q.SessionID)
	p.sink.OnQuoteSuccess(latency, q)
	p.metrics.ObserveQuote(chainLabel, latency, "ok")
	return q, nil
}

// Poll quotes immediately and then on every interval until ctx is done. Each
// tick cancels the previous tick's request, and results that arrive after
// being superseded are dropped. A disabled tick cancels the request in
// flight, and nothing is sent while the gate is closed. The channel is closed
// once ctx is done and in-flight requests have returned.
func (p *Poller) Poll(ctx context.Context, params Params) <-chan Result {
	out := make(chan Result)
	go func() {
		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			generation int
			cancelTick context.CancelFunc = func() {}
		)
		defer func() {
			cancelTick()
			wg.Wait()
			close(out)
		}()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			if Enabled(params, p.gate()) {
				cancelTick()
				var tickCtx context.Context
				tickCtx, cancelTick = context.WithCancel(ctx)
				mu.Lock()
				generation++
				gen := generation
				mu.Unlock()

				wg.Add(1)
				go func(tickCtx context.Context, gen int) {
					defer wg.Done()
					q, err := p.Fetch(tickCtx, params)
					mu.Lock()
					stale := gen != generation
					mu.Unlock()
					if stale || tickCtx.Err() != nil || !Enabled(params, p.gate()) {
						return
					}
					select {
					case out <- Result{Quote: q, Err: err, At: time.Now()}:
					case <-tickCtx.Done():
					}
				}(tickCtx, gen)
			} else {
				// a closed gate also drops the request still in flight
				cancelTick()
				mu.Lock()
				generation++
				mu.Unlock()
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}
