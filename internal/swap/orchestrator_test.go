package swap

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/hubroute/internal/allowance"
	"github.com/ggonzalez94/hubroute/internal/chain"
	"github.com/ggonzalez94/hubroute/internal/chain/chaintest"
	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/ggonzalez94/hubroute/internal/hub"
	"github.com/ggonzalez94/hubroute/internal/orders"
	"github.com/ggonzalez94/hubroute/internal/routing"
	"github.com/ggonzalez94/hubroute/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testAccount = "0x00000000000000000000000000000000000000aa"
	wmatic      = "0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270"
)

type submitFunc func(ctx context.Context, req hub.SubmitRequest) (string, error)

func (f submitFunc) Submit(ctx context.Context, req hub.SubmitRequest) (string, error) {
	return f(ctx, req)
}

type memBook struct {
	mu     sync.Mutex
	orders []orders.Order
}

func (b *memBook) Add(o orders.Order) (orders.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, o)
	return o, nil
}

func (b *memBook) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

type harness struct {
	store *Store
	fake  *chaintest.Fake
	book  *memBook
	orch  *Orchestrator
}

func newHarness(t *testing.T, submitter Submitter, sink *telemetry.Sink) *harness {
	t.Helper()
	fake := chaintest.New(137, testAccount)
	store := NewStore(nil)
	book := &memBook{}
	checker := allowance.New(fake, allowance.Options{}, zerolog.Nop())
	orch := NewOrchestrator(store, fake, submitter, checker, sink, book, nil, Options{
		Receipts: chain.AwaitOptions{Interval: time.Millisecond, Attempts: 3},
	}, zerolog.Nop())
	return &harness{store: store, fake: fake, book: book, orch: orch}
}

func hubQuote() *hub.Quote {
	return &hub.Quote{OutAmount: "500", PermitData: json.RawMessage(`{"primaryType":"PermitWitnessTransferFrom"}`), SerializedOrder: "0xorder", SessionID: "s-1"}
}

func okSubmitter(hash string) Submitter {
	return submitFunc(func(context.Context, hub.SubmitRequest) (string, error) { return hash, nil })
}

func TestExecuteNativeRunsEveryStep(t *testing.T) {
	var h *harness
	var midRun Session
	var submitted hub.SubmitRequest
	h = newHarness(t, submitFunc(func(_ context.Context, req hub.SubmitRequest) (string, error) {
		midRun = h.store.Snapshot()
		submitted = req
		return "0xhubtx", nil
	}), nil)

	var successHash string
	h.store.Confirm(ConfirmArgs{
		FromToken: matic, ToToken: usdc, FromAmount: "1000", DexOut: "400", Quote: hubQuote(),
		OnSuccess: func(txHash string) { successHash = txHash },
	})
	require.Equal(t, routing.OwnerHub, h.orch.Owner())

	res, err := h.orch.Execute(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, "0xhubtx", res.TxHash)

	require.Equal(t, []Step{StepWrap, StepApprove, StepSign, StepSendTx}, midRun.Steps.Applicable)
	require.Equal(t, StatusSuccess, midRun.Steps.StatusOf(StepSign))
	require.Equal(t, StatusLoading, midRun.Steps.StatusOf(StepSendTx))
	require.Equal(t, StepSendTx, midRun.Steps.Current)
	require.Equal(t, StatusInProgress, midRun.Status)

	require.Equal(t, strings.ToLower(submitted.InToken), wmatic)
	require.Equal(t, "0xsig", submitted.Signature)
	require.Equal(t, "1000", submitted.InAmount)

	calls := h.fake.Calls()
	require.GreaterOrEqual(t, len(calls), 4)
	require.Equal(t, []string{"Allowance:" + wmatic, "Wrap:" + wmatic + ":1000", "Approve:" + wmatic, "SignTypedData"}, calls[:4])

	h.orch.Wait()
	final := h.store.Snapshot()
	require.Equal(t, StatusSucceeded, final.Status)
	for _, step := range final.Steps.Applicable {
		require.Equal(t, StatusSuccess, final.Steps.StatusOf(step), "step %s", step)
	}
	require.Equal(t, "0xhubtx", successHash)
	require.Equal(t, 1, h.book.len())
	require.NotNil(t, final.OnChain)
	require.True(t, final.OnChain.Mined)
}

func TestExecuteSignRejectionFallsBackOnce(t *testing.T) {
	h := newHarness(t, okSubmitter("0xunused"), nil)
	h.fake.SetAllowance(usdc.Address, big.NewInt(1_000_000))
	h.fake.SignErr = errors.New("user rejected the request")

	fallbacks := 0
	h.store.Confirm(ConfirmArgs{
		FromToken: usdc, ToToken: matic, FromAmount: "1000", DexOut: "400", Quote: hubQuote(),
		DexFallback: func() { fallbacks++ },
	})

	res, err := h.orch.Execute(context.Background())
	require.NoError(t, err)
	require.Nil(t, res)

	got := h.store.Snapshot()
	require.Equal(t, 1, fallbacks)
	require.False(t, got.Wizard)
	require.Equal(t, StatusErrored, got.Status)
	require.Contains(t, got.Error, "user rejected")
	require.Equal(t, 1, got.Failures)
	require.Equal(t, []Step{StepSign, StepSendTx}, got.Steps.Applicable)
	require.Equal(t, StatusFailed, got.Steps.StatusOf(StepSign))
	require.Equal(t, StatusUndefined, got.Steps.StatusOf(StepSendTx))
	require.Zero(t, h.book.len())
}

func TestExecuteOpensCircuitAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t, submitFunc(func(context.Context, hub.SubmitRequest) (string, error) {
		return "", clierr.New(clierr.CodeHubRejected, "swap rejected")
	}), nil)
	h.fake.SetAllowance(usdc.Address, big.NewInt(1_000_000))
	h.store.Confirm(ConfirmArgs{FromToken: usdc, ToToken: matic, FromAmount: "1000", DexOut: "1", Quote: &hub.Quote{OutAmount: "1000", PermitData: json.RawMessage(`{}`)}})

	for i := 0; i < 3; i++ {
		_, err := h.orch.Execute(context.Background())
		require.NoError(t, err)
	}
	require.True(t, h.store.CircuitOpen())
	require.Equal(t, routing.OwnerDex, h.orch.Owner())

	_, err := h.orch.Execute(context.Background())
	require.True(t, clierr.HasCode(err, clierr.CodeUsage), "got %v", err)

	h.store.ResetCircuit()
	require.Equal(t, routing.OwnerHub, h.orch.Owner())
}

func TestExecuteSuccessResetsFailures(t *testing.T) {
	fail := true
	h := newHarness(t, submitFunc(func(context.Context, hub.SubmitRequest) (string, error) {
		if fail {
			return "", errors.New("boom")
		}
		return "0xok", nil
	}), nil)
	h.fake.SetAllowance(usdc.Address, big.NewInt(1_000_000))
	h.store.Confirm(ConfirmArgs{FromToken: usdc, ToToken: matic, FromAmount: "1000", DexOut: "1", Quote: hubQuote()})

	for i := 0; i < 2; i++ {
		_, _ = h.orch.Execute(context.Background())
	}
	require.Equal(t, 2, h.store.Failures())

	fail = false
	res, err := h.orch.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0xok", res.TxHash)
	require.Zero(t, h.store.Failures())
	h.orch.Wait()
}

func TestExecuteRejectsConcurrentRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, submitFunc(func(context.Context, hub.SubmitRequest) (string, error) {
		close(entered)
		<-release
		return "0xslow", nil
	}), nil)
	h.fake.SetAllowance(usdc.Address, big.NewInt(1_000_000))
	h.store.Confirm(ConfirmArgs{FromToken: usdc, ToToken: matic, FromAmount: "1000", DexOut: "1", Quote: hubQuote()})

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Execute(context.Background())
		done <- err
	}()
	<-entered
	_, err := h.orch.Execute(context.Background())
	require.True(t, clierr.HasCode(err, clierr.CodeBusy), "got %v", err)
	require.Equal(t, StatusInProgress, h.store.Snapshot().Status)

	close(release)
	require.NoError(t, <-done)
	h.orch.Wait()
}

func TestExecuteRequiresConfirmedQuote(t *testing.T) {
	h := newHarness(t, okSubmitter("0x1"), nil)
	_, err := h.orch.Execute(context.Background())
	require.True(t, clierr.HasCode(err, clierr.CodeUsage))

	h.store.Confirm(ConfirmArgs{FromToken: usdc, ToToken: matic, FromAmount: "1000"})
	_, err = h.orch.Execute(context.Background())
	require.True(t, clierr.HasCode(err, clierr.CodeUsage))
	got := h.store.Snapshot()
	require.Equal(t, StatusErrored, got.Status)
	require.Zero(t, got.Failures)
	require.Empty(t, h.fake.Calls())
}

func TestExecuteOnChainRevertKeepsSuccess(t *testing.T) {
	var mu sync.Mutex
	var records []telemetry.Record
	bi := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var rec telemetry.Record
		if json.Unmarshal(body, &rec) == nil {
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer bi.Close()

	sink := telemetry.NewSink(telemetry.Options{Endpoint: bi.URL}, nil, zerolog.Nop())
	sink.Init("quickswap", 137)
	h := newHarness(t, okSubmitter("0xreverted"), sink)
	h.fake.SetAllowance(usdc.Address, big.NewInt(1_000_000))
	h.fake.Reverted = map[string]string{"0xreverted": "execution reverted: expired"}
	h.store.Confirm(ConfirmArgs{FromToken: usdc, ToToken: matic, FromAmount: "1000", DexOut: "1", Quote: hubQuote()})

	_, err := h.orch.Execute(context.Background())
	require.NoError(t, err)
	h.orch.Wait()
	sink.Wait()

	got := h.store.Snapshot()
	require.Equal(t, StatusSucceeded, got.Status)
	require.NotNil(t, got.OnChain)
	require.False(t, got.OnChain.Mined)
	require.Equal(t, "execution reverted: expired", got.OnChain.RevertMessage)

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, rec := range records {
		if rec.OnChainClobSwapState == telemetry.StateFailed {
			require.Equal(t, telemetry.ReasonOnChainFailed, rec.IsNotClobTradeReason)
			require.Equal(t, "0xreverted", rec.TxHash)
			found = true
		}
	}
	require.True(t, found, "expected an on-chain failure record")
}

func TestNewDetails(t *testing.T) {
	store := NewStore(nil)
	sess := store.Confirm(ConfirmArgs{
		FromToken: matic, ToToken: usdc, FromAmount: "2000000000000000000", FromTokenUSD: "0.5",
		DexOut: "400000", Quote: &hub.Quote{OutAmount: "500000"},
	})
	sess.TxHash = "0xabc"

	d := NewDetails(sess, 137, 1)
	require.Equal(t, "2", d.FromAmount)
	require.Equal(t, "0.5", d.ToAmount)
	require.Equal(t, "0.495", d.MinAmountOut)
	require.Equal(t, "0.4", d.DexAmountOut)
	require.Equal(t, "25.00", d.PriceImprovement)
	require.InDelta(t, 1.0, d.FromUSD, 1e-9)
	require.Equal(t, "https://polygonscan.com/tx/0xabc", d.ExplorerURL)
}

func TestExecuteReplacedSessionKeepsAcceptedOrder(t *testing.T) {
	var h *harness
	var next Session
	h = newHarness(t, submitFunc(func(context.Context, hub.SubmitRequest) (string, error) {
		next = h.store.Confirm(ConfirmArgs{FromToken: usdc, ToToken: matic, FromAmount: "2000", DexOut: "1", Quote: hubQuote()})
		return "0xold", nil
	}), nil)
	h.fake.SetAllowance(usdc.Address, big.NewInt(1_000_000))

	fallbacks := 0
	var successHash string
	h.store.Confirm(ConfirmArgs{
		FromToken: usdc, ToToken: matic, FromAmount: "1000", DexOut: "1", Quote: hubQuote(),
		DexFallback: func() { fallbacks++ },
		OnSuccess:   func(txHash string) { successHash = txHash },
	})

	res, err := h.orch.Execute(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, "0xold", res.TxHash)
	h.orch.Wait()

	require.Zero(t, fallbacks)
	require.Equal(t, "0xold", successHash)
	require.Equal(t, 1, h.book.len())

	got := h.store.Snapshot()
	require.Zero(t, got.Failures)
	require.Equal(t, next.ID, got.ID)
	require.True(t, got.Wizard)
	require.Equal(t, "2000", got.FromAmount)
	require.Equal(t, StatusIdle, got.Status)
	require.Nil(t, got.OnChain)
}

func TestExecuteReplacedSessionFailureIsAbandoned(t *testing.T) {
	var h *harness
	var next Session
	h = newHarness(t, submitFunc(func(context.Context, hub.SubmitRequest) (string, error) {
		next = h.store.Confirm(ConfirmArgs{FromToken: usdc, ToToken: matic, FromAmount: "2000", DexOut: "1", Quote: hubQuote()})
		return "", errors.New("swap rejected")
	}), nil)
	h.fake.SetAllowance(usdc.Address, big.NewInt(1_000_000))

	fallbacks := 0
	h.store.Confirm(ConfirmArgs{
		FromToken: usdc, ToToken: matic, FromAmount: "1000", DexOut: "1", Quote: hubQuote(),
		DexFallback: func() { fallbacks++ },
	})

	res, err := h.orch.Execute(context.Background())
	require.NoError(t, err)
	require.Nil(t, res)

	time.Sleep(2 * DefaultResetDelay)
	got := h.store.Snapshot()
	require.Zero(t, fallbacks)
	require.Zero(t, got.Failures)
	require.Equal(t, next.ID, got.ID)
	require.True(t, got.Wizard)
	require.Equal(t, "2000", got.FromAmount)
	require.Zero(t, h.book.len())
}
