package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ggonzalez94/hubroute/internal/allowance"
	"github.com/ggonzalez94/hubroute/internal/chain"
	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/ggonzalez94/hubroute/internal/hub"
	"github.com/ggonzalez94/hubroute/internal/metrics"
	"github.com/ggonzalez94/hubroute/internal/orders"
	"github.com/ggonzalez94/hubroute/internal/registry"
	"github.com/ggonzalez94/hubroute/internal/routing"
	"github.com/ggonzalez94/hubroute/internal/telemetry"
	"github.com/ggonzalez94/hubroute/internal/token"
	"github.com/rs/zerolog"
)

var errSessionReplaced = errors.New("swap session was replaced")

// Submitter relays a signed order to the hub.
type Submitter interface {
	Submit(ctx context.Context, req hub.SubmitRequest) (string, error)
}

// OrderBook records accepted hub swaps.
type OrderBook interface {
	Add(order orders.Order) (orders.Order, error)
}

type Options struct {
	// Spender defaults to registry.Permit2Address.
	Spender string
	// Control and HubDisabled are the persisted routing preferences.
	Control     routing.Control
	HubDisabled bool
	Receipts    chain.AwaitOptions
}

type Orchestrator struct {
	store     *Store
	client    chain.Client
	hub       Submitter
	allowance *allowance.Checker
	sink      *telemetry.Sink
	orders    OrderBook
	metrics   *metrics.Metrics
	opts      Options
	log       zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// NewOrchestrator wires the collaborators of a hub swap. checker, sink,
// book and m may be nil.
func NewOrchestrator(store *Store, client chain.Client, submitter Submitter, checker *allowance.Checker, sink *telemetry.Sink, book OrderBook, m *metrics.Metrics, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.Spender == "" {
		opts.Spender = registry.Permit2Address
	}
	return &Orchestrator{
		store:     store,
		client:    client,
		hub:       submitter,
		allowance: checker,
		sink:      sink,
		orders:    book,
		metrics:   m,
		opts:      opts,
		log:       log,
		inFlight:  map[string]bool{},
	}
}

// Owner resolves who should execute the current session.
func (o *Orchestrator) Owner() routing.Owner {
	sess := o.store.Snapshot()
	hubOut := ""
	if sess.Quote != nil {
		hubOut = sess.Quote.OutAmount
	}
	return routing.Resolve(routing.Inputs{
		HubOut:      hubOut,
		DexOut:      sess.DexOut,
		Control:     o.opts.Control,
		HubEnabled:  !o.opts.HubDisabled,
		CircuitOpen: sess.CircuitOpen,
	})
}

// Execute runs the confirmed session through the hub. Step failures are
// reported through the Store, not as errors: the returned error covers
// only a missing precondition or a run already in flight. On success the
// result carries the submitted transaction hash; its receipt is followed in
// the background and lands in Session.OnChain (see Wait).
func (o *Orchestrator) Execute(ctx context.Context) (*chain.ReceiptResult, error) {
	sess := o.store.Snapshot()
	if sess.ID == "" {
		return nil, clierr.New(clierr.CodeUsage, "no confirmed swap to execute")
	}
	if !o.acquire(sess.ID) {
		return nil, clierr.New(clierr.CodeBusy, "swap is already in flight")
	}
	defer o.release(sess.ID)

	if err := o.validate(sess); err != nil {
		_ = o.store.update(sess.ID, func(s *Session) error {
			s.Status = StatusErrored
			s.Error = err.Error()
			return nil
		})
		return nil, err
	}
	defer o.sink.Clear()

	spend := *sess.FromToken
	fromNative := spend.IsNative()
	if fromNative {
		wrapped, _ := registry.WrappedNative(o.client.ChainID())
		spend = token.Token{Address: wrapped, Decimals: spend.Decimals, Symbol: "W" + spend.Symbol}
	}
	approved := o.allowance.CheckNow(ctx, spend, sess.FromAmount)
	o.sink.OnApprovedBeforeTheTrade(approved)

	if err := o.store.start(sess.ID, ApplicableSteps(fromNative, approved)); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "start swap", err)
	}
	amountIn, _ := new(big.Int).SetString(sess.FromAmount, 10)

	if fromNative {
		err := o.runStep(ctx, sess.ID, StepWrap, func(ctx context.Context) error {
			o.sink.OnWrapRequest()
			start := time.Now()
			if _, err := o.client.Wrap(ctx, spend.Address, amountIn); err != nil {
				o.sink.OnWrapFailed(err.Error(), time.Since(start))
				return err
			}
			o.sink.OnWrapSuccess(time.Since(start))
			return nil
		})
		if err != nil {
			return o.failed(sess, err)
		}
	}

	if !approved {
		err := o.runStep(ctx, sess.ID, StepApprove, func(ctx context.Context) error {
			o.sink.OnApprovalRequest()
			start := time.Now()
			if _, err := o.client.Approve(ctx, spend.Address, o.opts.Spender, chain.MaxUint256); err != nil {
				o.sink.OnApprovalFailed(err.Error(), time.Since(start))
				return err
			}
			o.allowance.InvalidateToken(spend)
			o.sink.OnApprovalSuccess(time.Since(start))
			return nil
		})
		if err != nil {
			return o.failed(sess, err)
		}
	}

	var signature string
	err := o.runStep(ctx, sess.ID, StepSign, func(ctx context.Context) error {
		o.sink.OnSignatureRequest()
		start := time.Now()
		sig, err := o.client.SignTypedData(ctx, sess.Quote.PermitData)
		if err != nil {
			o.sink.OnSignatureFailed(err.Error(), time.Since(start))
			return err
		}
		signature = sig
		o.sink.OnSignatureSuccess(sig, time.Since(start))
		return nil
	})
	if err != nil {
		return o.failed(sess, err)
	}

	var txHash string
	err = o.runStep(ctx, sess.ID, StepSendTx, func(ctx context.Context) error {
		o.sink.OnSwapRequest()
		start := time.Now()
		hash, err := o.hub.Submit(ctx, hub.SubmitRequest{
			ChainID:   o.client.ChainID(),
			InToken:   spend.ProtocolAddress(),
			OutToken:  sess.ToToken.ProtocolAddress(),
			InAmount:  sess.FromAmount,
			User:      o.client.Account(),
			Signature: signature,
			Quote:     sess.Quote,
		})
		if err != nil {
			o.sink.OnSwapFailed(err.Error(), time.Since(start))
			return err
		}
		txHash = hash
		o.sink.OnSwapSuccess(hash, time.Since(start))
		return nil
	})
	if err != nil {
		return o.failed(sess, err)
	}
	return o.succeeded(ctx, sess, txHash), nil
}

func (o *Orchestrator) validate(sess Session) error {
	switch {
	case sess.FromToken == nil || sess.ToToken == nil:
		return clierr.New(clierr.CodeUsage, "swap is missing its tokens")
	case sess.Quote == nil || sess.Quote.IsZero():
		return clierr.New(clierr.CodeUsage, "swap is missing a hub quote")
	case len(sess.Quote.PermitData) == 0:
		return clierr.New(clierr.CodeUsage, "hub quote carries no permit payload")
	case o.client == nil || o.hub == nil:
		return clierr.New(clierr.CodeUsage, "swap has no chain client or hub")
	case o.client.Account() == "":
		return clierr.New(clierr.CodeSigner, "no connected account")
	}
	if v, ok := new(big.Int).SetString(strings.TrimSpace(sess.FromAmount), 10); !ok || v.Sign() <= 0 {
		return clierr.New(clierr.CodeInvalidAmount, fmt.Sprintf("invalid swap amount %q", sess.FromAmount))
	}
	if sess.FromToken.IsNative() {
		if _, ok := registry.WrappedNative(o.client.ChainID()); !ok {
			return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no wrapped native token known for chain %d", o.client.ChainID()))
		}
	}
	if owner := o.Owner(); owner != routing.OwnerHub {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("trade is routed to %q, not the hub", owner))
	}
	return nil
}

func (o *Orchestrator) runStep(ctx context.Context, id string, step Step, fn func(context.Context) error) error {
	if err := o.store.beginStep(id, step); err != nil {
		return err
	}
	start := time.Now()
	err := fn(ctx)
	status := StatusSuccess
	if err != nil {
		status = StatusFailed
	}
	o.metrics.ObserveStep(string(step), string(status), time.Since(start))
	// a replaced session keeps the step's own outcome: a submitted order
	// stays submitted
	if ferr := o.store.finishStep(id, step, err == nil); ferr != nil && err == nil && !errors.Is(ferr, errSessionReplaced) {
		return ferr
	}
	if err != nil {
		o.log.Warn().Err(err).Str("step", string(step)).Str("session", id).Msg("swap step failed")
	}
	return err
}

func (o *Orchestrator) failed(sess Session, err error) (*chain.ReceiptResult, error) {
	if errors.Is(err, errSessionReplaced) || !o.store.fail(sess.ID, err.Error()) {
		o.log.Info().Str("session", sess.ID).Msg("swap session replaced, run abandoned")
		o.metrics.SwapOutcome("abandoned")
		return nil, nil
	}
	o.sink.OnClobFailure()
	o.metrics.SwapOutcome("failed")
	if sess.DexFallback != nil {
		sess.DexFallback()
		o.store.closeWizard(sess.ID)
	}
	return nil, nil
}

func (o *Orchestrator) succeeded(ctx context.Context, sess Session, txHash string) *chain.ReceiptResult {
	o.store.succeed(sess.ID, txHash)
	o.metrics.SwapOutcome("success")
	if sess.OnSuccess != nil {
		sess.OnSuccess(txHash)
	}
	if o.orders != nil {
		toAmount := ""
		if sess.Quote != nil {
			toAmount = sess.Quote.OutAmount
		}
		_, err := o.orders.Add(orders.Order{
			Account:    o.client.Account(),
			ChainID:    o.client.ChainID(),
			FromToken:  sess.FromToken.Address,
			ToToken:    sess.ToToken.Address,
			FromAmount: sess.FromAmount,
			ToAmount:   toAmount,
			TxHash:     txHash,
		})
		if err != nil {
			o.log.Warn().Err(err).Msg("could not record order")
		}
	}

	rec := o.sink.Snapshot()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		res, err := chain.AwaitReceipt(context.WithoutCancel(ctx), o.client, txHash, o.opts.Receipts)
		if err != nil || res == nil {
			o.log.Debug().Err(err).Str("tx", txHash).Msg("hub swap receipt unknown")
			return
		}
		o.store.setOnChain(sess.ID, res)
		o.sink.OnClobOnChain(rec, res.Mined)
	}()
	return &chain.ReceiptResult{TxHash: txHash}
}

// Wait blocks until background receipt tracking has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) acquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[id] {
		return false
	}
	o.inFlight[id] = true
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, id)
}
