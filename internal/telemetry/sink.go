// Package telemetry accumulates the record of the current trade attempt and
// ships it to the reporting endpoint after every change. Only the latest
// snapshot is ever in flight: a new flush cancels the previous one.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ggonzalez94/hubroute/internal/amount"
	"github.com/ggonzalez94/hubroute/internal/chain"
	"github.com/ggonzalez94/hubroute/internal/httpx"
	"github.com/ggonzalez94/hubroute/internal/hub"
	"github.com/ggonzalez94/hubroute/internal/metrics"
	"github.com/ggonzalez94/hubroute/internal/registry"
	"github.com/ggonzalez94/hubroute/internal/token"
	"github.com/rs/zerolog"
)

type Options struct {
	// Endpoint defaults to registry.BIEndpoint. Disabled skips all sends
	// while still keeping the record.
	Endpoint string
	Disabled bool
	Timeout  time.Duration
	Receipts chain.AwaitOptions
}

// Sink methods are no-ops on a nil *Sink.
type Sink struct {
	mu             sync.Mutex
	data           Record
	firstFailure   string
	cancelInFlight context.CancelFunc

	endpoint string
	disabled bool
	http     *httpx.Client
	receipts chain.AwaitOptions
	metrics  *metrics.Metrics
	log      zerolog.Logger

	// pending counts running sends and receipt watchers; it may grow from
	// any goroutine while Wait is blocked.
	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond
}

func NewSink(opts Options, m *metrics.Metrics, log zerolog.Logger) *Sink {
	if opts.Endpoint == "" {
		opts.Endpoint = registry.BIEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	sink := &Sink{
		data:     newRecord("", 0),
		endpoint: opts.Endpoint,
		disabled: opts.Disabled,
		http:     httpx.New(opts.Timeout, 0).WithLogger(log),
		receipts: opts.Receipts,
		metrics:  m,
		log:      log,
	}
	sink.idle = sync.NewCond(&sink.pendingMu)
	return sink
}

// Init starts a fresh record for partner on chainID.
func (s *Sink) Init(partner string, chainID int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = newRecord(partner, chainID)
}

// Clear rotates to a fresh record keeping partner, chain and the first
// failure session marker.
func (s *Sink) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := newRecord(s.data.Partner, s.data.ChainID)
	next.FirstFailureSessionID = s.firstFailure
	s.data = next
}

func (s *Sink) Snapshot() Record {
	if s == nil {
		return Record{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *Sink) SetSessionID(id string) {
	if s == nil || id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.SessionID = id
}

func (s *Sink) SessionID() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.SessionID
}

// Wait blocks until no send or receipt watcher is running.
func (s *Sink) Wait() {
	if s == nil {
		return
	}
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for s.pending > 0 {
		s.idle.Wait()
	}
}

func (s *Sink) track() {
	s.pendingMu.Lock()
	s.pending++
	s.pendingMu.Unlock()
}

func (s *Sink) untrack() {
	s.pendingMu.Lock()
	s.pending--
	if s.pending == 0 {
		s.idle.Broadcast()
	}
	s.pendingMu.Unlock()
}

// update merges into the live record and flushes it. Records without a
// partner or chain are neither updated nor sent.
func (s *Sink) update(mutate func(r *Record)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.data.ChainID == 0 || s.data.Partner == "" {
		s.mu.Unlock()
		return
	}
	mutate(&s.data)
	snapshot := s.data
	if s.cancelInFlight != nil {
		s.cancelInFlight()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelInFlight = cancel
	s.mu.Unlock()

	s.send(ctx, cancel, snapshot)
}

func (s *Sink) send(ctx context.Context, cancel context.CancelFunc, snapshot Record) {
	if s.disabled {
		cancel()
		return
	}
	s.track()
	go func() {
		defer s.untrack()
		defer cancel()
		_, err := httpx.PostJSON(ctx, s.http, s.endpoint, snapshot, nil)
		switch {
		case err == nil:
			s.metrics.TelemetrySend("ok")
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			s.metrics.TelemetrySend("cancelled")
		default:
			s.metrics.TelemetrySend("error")
			s.log.Debug().Err(err).Str("record", snapshot.ID).Msg("telemetry send failed")
		}
	}()
}

// sendDetached ships a record that is no longer live, without cancelling or
// being cancelled by the live record's sends.
func (s *Sink) sendDetached(rec Record) {
	if s == nil || rec.ChainID == 0 || rec.Partner == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.send(ctx, cancel, rec)
}

type InitSwapArgs struct {
	SrcToken      token.Token
	DstToken      token.Token
	SrcAmount     string
	DexAmountOut  string
	DstTokenUSD   string
	Slippage      float64
	WalletAddress string
}

func (s *Sink) InitSwap(args InitSwapArgs) {
	dstUSD := amount.USDValue(orZero(args.DexAmountOut), args.DstToken.Decimals, args.DstTokenUSD)
	s.update(func(r *Record) {
		r.DexAmountOut = args.DexAmountOut
		r.DstAmountOutUSD = dstUSD
		r.SrcTokenAddress = args.SrcToken.Address
		r.SrcTokenSymbol = args.SrcToken.Symbol
		r.DstTokenAddress = args.DstToken.Address
		r.DstTokenSymbol = args.DstToken.Symbol
		r.SrcAmount = args.SrcAmount
		r.Slippage = args.Slippage
		r.WalletAddress = args.WalletAddress
	})
}

func (s *Sink) OnQuoteRequest(dexAmountOut string) {
	s.update(func(r *Record) {
		r.QuoteState = StatePending
		r.QuoteIndex++
		r.DexAmountOut = dexAmountOut
	})
}

func (s *Sink) OnQuoteSuccess(latency time.Duration, q *hub.Quote) {
	s.update(func(r *Record) {
		r.QuoteState = StateSuccess
		applyQuote(r, q, latency)
	})
}

func (s *Sink) OnQuoteFailed(msg string, latency time.Duration, q *hub.Quote) {
	s.update(func(r *Record) {
		if msg == DexPriceBetter {
			r.IsNotClobTradeReason = DexPriceBetter
			r.QuoteState = StateSuccess
		} else {
			r.QuoteError = msg
			r.QuoteState = StateFailed
			r.IsNotClobTradeReason = ReasonQuoteFailed
		}
		applyQuote(r, q, latency)
	})
}

func applyQuote(r *Record, q *hub.Quote, latency time.Duration) {
	r.QuoteMillis = latency.Milliseconds()
	r.ClobDexPriceDiffPercent = ""
	r.QuoteAmountOut = ""
	r.QuoteSerializedOrder = ""
	if q == nil {
		return
	}
	r.QuoteAmountOut = q.OutAmount
	r.QuoteSerializedOrder = q.SerializedOrder
	r.ClobDexPriceDiffPercent = amount.PercentDiff(q.OutAmount, r.DexAmountOut)
}

func (s *Sink) OnApprovedBeforeTheTrade(approved bool) {
	s.update(func(r *Record) { r.UserWasApprovedBeforeTheTrade = &approved })
}

func (s *Sink) OnWrapRequest() {
	s.update(func(r *Record) { r.WrapState = StatePending })
}

func (s *Sink) OnWrapSuccess(d time.Duration) {
	s.update(func(r *Record) {
		r.WrapMillis = d.Milliseconds()
		r.WrapState = StateSuccess
	})
}

func (s *Sink) OnWrapFailed(msg string, d time.Duration) {
	s.update(func(r *Record) {
		r.WrapError = msg
		r.WrapState = StateFailed
		r.WrapMillis = d.Milliseconds()
		r.IsNotClobTradeReason = ReasonWrapFailed
	})
}

func (s *Sink) OnApprovalRequest() {
	s.update(func(r *Record) { r.ApprovalState = StatePending })
}

func (s *Sink) OnApprovalSuccess(d time.Duration) {
	s.update(func(r *Record) {
		r.ApprovalMillis = d.Milliseconds()
		r.ApprovalState = StateSuccess
	})
}

func (s *Sink) OnApprovalFailed(msg string, d time.Duration) {
	s.update(func(r *Record) {
		r.ApprovalError = msg
		r.ApprovalState = StateFailed
		r.ApprovalMillis = d.Milliseconds()
		r.IsNotClobTradeReason = ReasonApprovalFailed
	})
}

func (s *Sink) OnSignatureRequest() {
	s.update(func(r *Record) { r.SignatureState = StatePending })
}

func (s *Sink) OnSignatureSuccess(signature string, d time.Duration) {
	s.update(func(r *Record) {
		r.Signature = signature
		r.SignatureMillis = d.Milliseconds()
		r.SignatureState = StateSuccess
	})
}

func (s *Sink) OnSignatureFailed(msg string, d time.Duration) {
	s.update(func(r *Record) {
		r.SignatureError = msg
		r.SignatureState = StateFailed
		r.SignatureMillis = d.Milliseconds()
		r.IsNotClobTradeReason = ReasonSignatureFailed
	})
}

func (s *Sink) OnSwapRequest() {
	s.update(func(r *Record) { r.SwapState = StatePending })
}

func (s *Sink) OnSwapSuccess(txHash string, d time.Duration) {
	s.update(func(r *Record) {
		r.TxHash = txHash
		r.SwapMillis = d.Milliseconds()
		r.SwapState = StateSuccess
		r.IsClobTrade = true
		r.OnChainClobSwapState = StatePending
	})
}

func (s *Sink) OnSwapFailed(msg string, d time.Duration) {
	s.update(func(r *Record) {
		r.SwapError = msg
		r.SwapState = StateFailed
		r.SwapMillis = d.Milliseconds()
		r.IsNotClobTradeReason = ReasonSwapFailed
	})
}

func (s *Sink) OnForceClob() {
	s.update(func(r *Record) { r.IsForceClob = true })
}

func (s *Sink) OnNotClobTrade(reason string) {
	s.update(func(r *Record) { r.IsNotClobTradeReason = reason })
}

// OnClobFailure remembers the hub session of the first failure; it survives
// Clear.
func (s *Sink) OnClobFailure() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstFailure == "" {
		s.firstFailure = s.data.SessionID
	}
}

// OnClobOnChain reports the mined outcome of a hub swap against rec, the
// record captured when the swap was submitted.
func (s *Sink) OnClobOnChain(rec Record, mined bool) {
	if mined {
		rec.OnChainClobSwapState = StateSuccess
	} else {
		rec.OnChainClobSwapState = StateFailed
		rec.IsNotClobTradeReason = ReasonOnChainFailed
	}
	s.sendDetached(rec)
}

func (s *Sink) OnDexSwapRequest() {
	s.update(func(r *Record) {
		r.DexSwapState = StatePending
		r.IsDexTrade = true
	})
}

// OnDexSwapSuccess records the host's DEX transaction and, when reader is
// set, follows its receipt in the background.
func (s *Sink) OnDexSwapSuccess(ctx context.Context, txHash string, reader chain.ReceiptReader) {
	s.update(func(r *Record) {
		r.DexSwapState = StateSuccess
		r.DexSwapTxHash = txHash
	})
	if s == nil || reader == nil || txHash == "" {
		return
	}
	s.track()
	go func() {
		defer s.untrack()
		res, err := chain.AwaitReceipt(ctx, reader, txHash, s.receipts)
		if err != nil || res == nil {
			return
		}
		state := StateFailed
		if res.Mined {
			state = StateSuccess
		}
		s.update(func(r *Record) { r.OnChainDexSwapState = state })
	}()
}

func (s *Sink) OnDexSwapFailed(msg string) {
	s.update(func(r *Record) {
		r.DexSwapState = StateFailed
		r.DexSwapError = msg
	})
}

func orZero(v string) string {
	if v == "" {
		return "0"
	}
	return v
}
