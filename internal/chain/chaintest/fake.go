// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ggonzalez94/hubroute/internal/chain"
)

// Fake records every call and answers from its fields. Zero values give an
// approved-nothing account whose writes succeed and whose receipts are mined.
type Fake struct {
	ChainIDValue int64
	AccountValue string

	mu           sync.Mutex
	allowances   map[string]*big.Int
	calls        []string
	AllowanceErr error
	WrapErr      error
	ApproveErr   error
	SignErr      error
	Signature    string
	Reverted     map[string]string
	Pending      map[string]bool
}

func New(chainID int64, account string) *Fake {
	return &Fake{ChainIDValue: chainID, AccountValue: account, Signature: "0xsig"}
}

var _ chain.Client = (*Fake)(nil)

func (f *Fake) ChainID() int64  { return f.ChainIDValue }
func (f *Fake) Account() string { return f.AccountValue }

// SetAllowance sets token's allowance for any owner and spender.
func (f *Fake) SetAllowance(token string, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allowances == nil {
		f.allowances = map[string]*big.Int{}
	}
	f.allowances[strings.ToLower(token)] = v
}

// Calls returns the recorded method log, e.g. "Allowance:0xtoken".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CountCalls counts log entries with the given method prefix.
func (f *Fake) CountCalls(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, method) {
			n++
		}
	}
	return n
}

func (f *Fake) record(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, entry)
}

func (f *Fake) Allowance(_ context.Context, token, _, _ string) (*big.Int, error) {
	f.record("Allowance:" + strings.ToLower(token))
	if f.AllowanceErr != nil {
		return nil, f.AllowanceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.allowances[strings.ToLower(token)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) Wrap(_ context.Context, wrapped string, amount *big.Int) (string, error) {
	f.record(fmt.Sprintf("Wrap:%s:%s", strings.ToLower(wrapped), amount))
	if f.WrapErr != nil {
		return "", f.WrapErr
	}
	return "0xwrap", nil
}

func (f *Fake) Approve(_ context.Context, token, _ string, amount *big.Int) (string, error) {
	f.record("Approve:" + strings.ToLower(token))
	if f.ApproveErr != nil {
		return "", f.ApproveErr
	}
	f.SetAllowance(token, amount)
	return "0xapprove", nil
}

func (f *Fake) SignTypedData(_ context.Context, payload json.RawMessage) (string, error) {
	f.record("SignTypedData")
	if f.SignErr != nil {
		return "", f.SignErr
	}
	return f.Signature, nil
}

func (f *Fake) Receipt(_ context.Context, txHash string) (*chain.Receipt, error) {
	f.record("Receipt:" + txHash)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Pending[txHash] {
		return nil, nil
	}
	_, reverted := f.Reverted[txHash]
	return &chain.Receipt{TxHash: txHash, BlockNumber: 1, Success: !reverted}, nil
}

func (f *Fake) RevertReason(_ context.Context, txHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Reverted[txHash], nil
}
