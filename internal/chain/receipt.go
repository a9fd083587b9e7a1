package chain

import (
	"context"
	"time"

	clierr "github.com/ggonzalez94/hubroute/internal/errors"
)

const (
	DefaultReceiptInterval = 3 * time.Second
	DefaultReceiptAttempts = 30

	UnknownRevertReason = "unable to retrieve revert reason"
)

type AwaitOptions struct {
	Interval time.Duration
	Attempts int
}

func DefaultAwaitOptions() AwaitOptions {
	return AwaitOptions{Interval: DefaultReceiptInterval, Attempts: DefaultReceiptAttempts}
}

// AwaitReceipt polls for txHash until it is mined or the attempt budget runs
// out. An exhausted budget returns nil, nil: the outcome is still unknown,
// which is not a failure. A reverted receipt returns Mined=false with the
// best revert reason available.
func AwaitReceipt(ctx context.Context, c ReceiptReader, txHash string, opts AwaitOptions) (*ReceiptResult, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReceiptInterval
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultReceiptAttempts
	}
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeActionTimeout, "receipt wait cancelled", ctx.Err())
			case <-time.After(opts.Interval):
			}
		}
		receipt, err := c.Receipt(ctx, txHash)
		if err != nil || receipt == nil {
			// transient lookup failures count as "not mined yet"
			continue
		}
		if receipt.Success {
			return &ReceiptResult{TxHash: txHash, Mined: true, BlockNumber: receipt.BlockNumber}, nil
		}
		reason, err := c.RevertReason(ctx, txHash)
		if err != nil || reason == "" {
			reason = UnknownRevertReason
		}
		return &ReceiptResult{TxHash: txHash, Mined: false, BlockNumber: receipt.BlockNumber, RevertMessage: reason}, nil
	}
	return nil, nil
}
