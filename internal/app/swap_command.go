package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ggonzalez94/hubroute/internal/allowance"
	"github.com/ggonzalez94/hubroute/internal/chain"
	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/ggonzalez94/hubroute/internal/logging"
	"github.com/ggonzalez94/hubroute/internal/model"
	"github.com/ggonzalez94/hubroute/internal/registry"
	"github.com/ggonzalez94/hubroute/internal/routing"
	"github.com/ggonzalez94/hubroute/internal/swap"
	"github.com/ggonzalez94/hubroute/internal/telemetry"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var f tradeFlags
	var wait bool
	var dexTx, dexErr string
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Execute a swap through the hub when it beats the DEX",
		Long:  "Quotes the hub, resolves the route and, when the hub wins, runs wrap, approve, sign and submit with the configured signer.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.requirePartner(); err != nil {
				return err
			}
			t, err := s.parseTrade(f)
			if err != nil {
				return err
			}
			txSigner, err := s.loadSigner(f.keySrc)
			if err != nil {
				return err
			}
			account := txSigner.Address().Hex()
			if acct := strings.TrimSpace(s.settings.Account); acct != "" && !strings.EqualFold(acct, account) {
				return clierr.New(clierr.CodeSigner, fmt.Sprintf("--account %s does not match signer %s", acct, account))
			}

			ctx := commandContext(cmd)
			start := time.Now()
			rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, t.chain.ID)
			if err != nil {
				return err
			}
			evm, err := chain.Dial(ctx, rpcURL, txSigner, chain.DefaultTxOptions(), logging.Component(s.log, "chain"))
			if err != nil {
				return err
			}
			defer evm.Close()
			if evm.ChainID() != t.chain.ID {
				return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("rpc serves chain %d, expected %d", evm.ChainID(), t.chain.ID))
			}

			prefStore, err := s.ensurePrefs()
			if err != nil {
				return err
			}
			p, err := prefStore.Load()
			if err != nil {
				return err
			}
			book, err := s.ensureOrders()
			if err != nil {
				return err
			}

			sink := s.newSink(t, account)
			defer sink.Wait()
			hubClient := s.newHubClient()

			var fellBack bool
			confirm := swap.ConfirmArgs{
				FromToken:    t.from,
				ToToken:      t.to,
				FromAmount:   t.amountBase,
				FromTokenUSD: f.fromUSD,
				ToTokenUSD:   f.toUSD,
				DexOut:       t.dexBase,
				DexFallback:  func() { fellBack = true },
			}
			if p.HubEnabled && p.Control != routing.ControlSkip {
				poller := s.newPoller(hubClient, sink, nil)
				q, err := poller.Fetch(ctx, s.quoteParams(t, account))
				if err != nil {
					if ctx.Err() != nil {
						return err
					}
					// without a quote the route resolves to the DEX
					s.warn("hub quote failed: " + err.Error())
				}
				confirm.Quote = q
			}

			store := swap.NewStore(s.metrics)
			store.Confirm(confirm)
			orch := swap.NewOrchestrator(store, evm, hubClient,
				allowance.New(evm, allowance.Options{}, logging.Component(s.log, "allowance")),
				sink, book, s.metrics,
				swap.Options{Control: p.Control, HubDisabled: !p.HubEnabled, Receipts: chain.DefaultAwaitOptions()},
				logging.Component(s.log, "swap"))

			if p.Control == routing.ControlForce {
				sink.OnForceClob()
			}
			owner := orch.Owner()
			s.metrics.OwnerDecision(string(owner))
			if owner != routing.OwnerHub {
				reason := "hub is disabled"
				if p.HubEnabled && p.Control != routing.ControlSkip {
					reason = telemetry.DexPriceBetter
					sink.OnNotClobTrade(reason)
				}
				reportDexSwap(ctx, sink, evm, dexTx, dexErr)
				snap := store.Snapshot()
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.SwapResult{
					Owner:   string(owner),
					Status:  string(snap.Status),
					Steps:   snap.Steps,
					Details: swap.NewDetails(snap, t.chain.ID, s.settings.Slippage),
					Reason:  reason,
				}, time.Since(start))
			}

			if _, err := orch.Execute(ctx); err != nil {
				return err
			}
			if wait {
				orch.Wait()
			}
			snap := store.Snapshot()
			if snap.Status == swap.StatusErrored {
				if fellBack {
					s.warn("hub swap failed; execute the trade on the DEX instead")
					reportDexSwap(ctx, sink, evm, dexTx, dexErr)
				}
				return stepError(snap)
			}
			if snap.OnChain != nil && !snap.OnChain.Mined {
				s.warn("transaction was submitted but did not succeed on chain: " + snap.OnChain.RevertMessage)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.SwapResult{
				Owner:    string(owner),
				Executed: true,
				Status:   string(snap.Status),
				Steps:    snap.Steps,
				Details:  swap.NewDetails(snap, t.chain.ID, s.settings.Slippage),
				OnChain:  snap.OnChain,
			}, time.Since(start))
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the on-chain receipt before returning")
	cmd.Flags().StringVar(&dexTx, "dex-tx", "", "Hash of the host's DEX swap, reported when the DEX owns the trade")
	cmd.Flags().StringVar(&dexErr, "dex-error", "", "Failure of the host's DEX swap, reported when the DEX owns the trade")
	return cmd
}

// reportDexSwap forwards the host's own DEX execution to telemetry.
func reportDexSwap(ctx context.Context, sink *telemetry.Sink, reader chain.ReceiptReader, txHash, failure string) {
	switch {
	case txHash != "":
		sink.OnDexSwapRequest()
		sink.OnDexSwapSuccess(ctx, txHash, reader)
	case failure != "":
		sink.OnDexSwapRequest()
		sink.OnDexSwapFailed(failure)
	}
}

// stepError maps the failed step of a session to an exit code.
func stepError(sess swap.Session) error {
	code := clierr.CodeInternal
	msg := "swap failed"
	if step, ok := failedStep(sess.Steps); ok {
		switch step {
		case swap.StepSign:
			code = clierr.CodeSigner
		case swap.StepWrap, swap.StepApprove:
			code = clierr.CodeOnChain
		case swap.StepSendTx:
			code = clierr.CodeHubRejected
		}
		msg = fmt.Sprintf("swap failed at %s", step)
	}
	if sess.Error != "" {
		msg += ": " + sess.Error
	}
	return clierr.New(code, msg)
}

// failedStep returns the first applicable step marked failed.
func failedStep(steps swap.Steps) (swap.Step, bool) {
	for _, step := range steps.Applicable {
		if steps.StatusOf(step) == swap.StatusFailed {
			return step, true
		}
	}
	return "", false
}
