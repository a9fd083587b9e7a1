package swap

import (
	"testing"
	"time"

	"github.com/ggonzalez94/hubroute/internal/hub"
	"github.com/ggonzalez94/hubroute/internal/token"
	"github.com/stretchr/testify/require"
)

var (
	usdc  = token.Token{Address: "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", Decimals: 6, Symbol: "USDC"}
	matic = token.Token{Address: token.ZeroAddress, Decimals: 18, Symbol: "MATIC"}
)

func TestConfirmOpensFreshSession(t *testing.T) {
	store := NewStore(nil)
	updates, unsubscribe := store.Subscribe()
	defer unsubscribe()

	first := store.Confirm(ConfirmArgs{FromToken: matic, ToToken: usdc, FromAmount: "1000", Quote: &hub.Quote{OutAmount: "500"}})
	require.NotEmpty(t, first.ID)
	require.True(t, first.Wizard)

	got := <-updates
	require.Equal(t, first.ID, got.ID)

	second := store.Confirm(ConfirmArgs{FromToken: usdc, ToToken: matic, FromAmount: "5"})
	require.NotEqual(t, first.ID, second.ID)
	require.Nil(t, second.Quote)
}

func TestCloseWizardResetsAfterDelayKeepingFailures(t *testing.T) {
	store := NewStore(nil).WithResetDelay(10 * time.Millisecond)
	store.Confirm(ConfirmArgs{FromToken: usdc, ToToken: matic, FromAmount: "5"})
	store.RecordFailure()

	store.CloseWizard()
	require.False(t, store.Snapshot().Wizard)
	require.Eventually(t, func() bool { return store.Snapshot().ID == "" }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, store.Failures())
}

func TestCloseWizardWhileLoadingKeepsSession(t *testing.T) {
	store := NewStore(nil).WithResetDelay(5 * time.Millisecond)
	sess := store.Confirm(ConfirmArgs{FromToken: usdc, ToToken: matic, FromAmount: "5"})
	require.NoError(t, store.start(sess.ID, ApplicableSteps(false, true)))

	store.CloseWizard()
	time.Sleep(30 * time.Millisecond)
	got := store.Snapshot()
	require.Equal(t, sess.ID, got.ID)
	require.Equal(t, StatusInProgress, got.Status)
}

func TestConfirmCancelsPendingReset(t *testing.T) {
	store := NewStore(nil).WithResetDelay(20 * time.Millisecond)
	store.Confirm(ConfirmArgs{FromToken: usdc, ToToken: matic, FromAmount: "5"})
	store.CloseWizard()
	next := store.Confirm(ConfirmArgs{FromToken: usdc, ToToken: matic, FromAmount: "6"})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, next.ID, store.Snapshot().ID)
}

func TestCircuitOpensAfterThreeFailures(t *testing.T) {
	store := NewStore(nil)
	for i := 0; i < 2; i++ {
		store.RecordFailure()
	}
	require.False(t, store.CircuitOpen())
	store.RecordFailure()
	require.True(t, store.CircuitOpen())
	require.True(t, store.Snapshot().CircuitOpen)

	store.ResetCircuit()
	require.False(t, store.CircuitOpen())
}
