// Package chain is the blockchain capability used by the allowance checker
// and swap orchestrator: allowance reads, wrap and approve transactions,
// typed-data signing and receipt lookups.
package chain

import (
	"context"
	"encoding/json"
	"math/big"
)

// Client is injected into every component that touches the chain.
type Client interface {
	ChainID() int64
	Account() string
	// Allowance reads token.allowance(owner, spender).
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
	// Wrap deposits amount of the native asset into the wrapped contract and
	// waits for the transaction to be mined.
	Wrap(ctx context.Context, wrapped string, amount *big.Int) (string, error)
	// Approve grants spender amount of token and waits for the transaction
	// to be mined.
	Approve(ctx context.Context, token, spender string, amount *big.Int) (string, error)
	// SignTypedData signs an EIP-712 payload and returns the 0x signature.
	SignTypedData(ctx context.Context, payload json.RawMessage) (string, error)
	ReceiptReader
}

// ReceiptReader is the subset AwaitReceipt needs.
type ReceiptReader interface {
	// Receipt returns nil, nil while the transaction is not mined.
	Receipt(ctx context.Context, txHash string) (*Receipt, error)
	// RevertReason replays a mined transaction and decodes why it reverted.
	RevertReason(ctx context.Context, txHash string) (string, error)
}

type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	Success     bool   `json:"success"`
	GasUsed     uint64 `json:"gas_used"`
}

// ReceiptResult is the settled on-chain outcome of a transaction.
type ReceiptResult struct {
	TxHash        string `json:"tx_hash"`
	Mined         bool   `json:"mined"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
	RevertMessage string `json:"revert_message,omitempty"`
}

// MaxUint256 is the unlimited approval amount.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
