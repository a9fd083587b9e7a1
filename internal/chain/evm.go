package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ggonzalez94/hubroute/internal/chain/signer"
	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/ggonzalez94/hubroute/internal/registry"
	"github.com/rs/zerolog"
)

type TxOptions struct {
	// Account is used for reads when no signer is configured.
	Account            string
	PollInterval       time.Duration
	StepTimeout        time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		PollInterval:  2 * time.Second,
		StepTimeout:   2 * time.Minute,
		GasMultiplier: 1.2,
	}
}

// EVM implements Client over a JSON-RPC endpoint and a local signer.
type EVM struct {
	rpc     *ethclient.Client
	signer  signer.Signer
	account common.Address
	chainID *big.Int
	erc20   abi.ABI
	wrapped abi.ABI
	opts    TxOptions
	log     zerolog.Logger
}

// Dial connects to rpcURL and reads the chain id. txSigner may be nil for
// read-only use, in which case opts.Account supplies the account.
func Dial(ctx context.Context, rpcURL string, txSigner signer.Signer, opts TxOptions, log zerolog.Logger) (*EVM, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return nil, clierr.New(clierr.CodeUsage, "missing rpc url")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	erc20, err := parseABI(registry.ERC20MinimalABI)
	if err != nil {
		return nil, err
	}
	wrapped, err := parseABI(registry.WrappedNativeABI)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	account := common.HexToAddress(opts.Account)
	if txSigner != nil {
		account = txSigner.Address()
	}
	return &EVM{
		rpc:     client,
		signer:  txSigner,
		account: account,
		chainID: chainID,
		erc20:   erc20,
		wrapped: wrapped,
		opts:    opts,
		log:     log,
	}, nil
}

func (e *EVM) Close() { e.rpc.Close() }

func (e *EVM) ChainID() int64 { return e.chainID.Int64() }

func (e *EVM) Account() string {
	if e.account == (common.Address{}) {
		return ""
	}
	return e.account.Hex()
}

func (e *EVM) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	if !common.IsHexAddress(token) || !common.IsHexAddress(owner) || !common.IsHexAddress(spender) {
		return nil, clierr.New(clierr.CodeUsage, "allowance requires token, owner and spender addresses")
	}
	tokenAddr := common.HexToAddress(token)
	data, err := e.erc20.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack allowance call", err)
	}
	out, err := e.rpc.CallContract(ctx, ethereum.CallMsg{From: common.HexToAddress(owner), To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read allowance", err)
	}
	values, err := e.erc20.Unpack("allowance", out)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode allowance", err)
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, "invalid allowance response")
	}
	return allowance, nil
}

func (e *EVM) Wrap(ctx context.Context, wrapped string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(wrapped) {
		return "", clierr.New(clierr.CodeUsage, "invalid wrapped native address")
	}
	data, err := e.wrapped.Pack("deposit")
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "pack deposit call", err)
	}
	return e.sendAndWait(ctx, common.HexToAddress(wrapped), amount, data)
}

func (e *EVM) Approve(ctx context.Context, token, spender string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(token) || !common.IsHexAddress(spender) {
		return "", clierr.New(clierr.CodeUsage, "approve requires token and spender addresses")
	}
	data, err := e.erc20.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "pack approve call", err)
	}
	return e.sendAndWait(ctx, common.HexToAddress(token), big.NewInt(0), data)
}

func (e *EVM) SignTypedData(_ context.Context, payload json.RawMessage) (string, error) {
	if e.signer == nil {
		return "", clierr.New(clierr.CodeSigner, "no signing key configured")
	}
	typed, err := signer.ParseTypedData(payload)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "invalid permit payload", err)
	}
	sig, err := e.signer.SignTypedData(typed)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "sign permit", err)
	}
	return hexutil.Encode(sig), nil
}

func (e *EVM) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	receipt, err := e.rpc.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch receipt", err)
	}
	return toReceipt(receipt), nil
}

func (e *EVM) RevertReason(ctx context.Context, txHash string) (string, error) {
	hash := common.HexToHash(txHash)
	tx, _, err := e.rpc.TransactionByHash(ctx, hash)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "fetch transaction", err)
	}
	receipt, err := e.rpc.TransactionReceipt(ctx, hash)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "fetch receipt", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(e.chainID), tx)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "recover sender", err)
	}
	msg := ethereum.CallMsg{From: from, To: tx.To(), Gas: tx.Gas(), Value: tx.Value(), Data: tx.Data()}
	_, callErr := e.rpc.CallContract(ctx, msg, receipt.BlockNumber)
	if callErr == nil {
		return "", nil
	}
	if reason := decodeRevertFromError(callErr); reason != "" {
		return reason, nil
	}
	return callErr.Error(), nil
}

func (e *EVM) sendAndWait(ctx context.Context, target common.Address, value *big.Int, data []byte) (string, error) {
	if e.signer == nil {
		return "", clierr.New(clierr.CodeSigner, "no signing key configured")
	}
	from := e.signer.Address()
	unlock := acquireSignerNonceLock(e.chainID, from)
	defer unlock()

	msg := ethereum.CallMsg{From: from, To: &target, Value: value, Data: data}
	gasLimit, err := e.rpc.EstimateGas(ctx, msg)
	if err != nil {
		return "", wrapEVMExecutionError(clierr.CodeOnChain, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * e.opts.GasMultiplier)

	tipCap, err := e.resolveTipCap(ctx)
	if err != nil {
		return "", err
	}
	header, err := e.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, e.opts.MaxFeeGwei)
	if err != nil {
		return "", err
	}
	nonce, err := e.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := e.signer.SignTx(e.chainID, tx)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := e.rpc.SendTransaction(ctx, signed); err != nil {
		return "", wrapEVMExecutionError(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	hash := signed.Hash().Hex()
	e.log.Debug().Str("tx_hash", hash).Str("to", target.Hex()).Msg("transaction submitted")

	waitCtx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
	defer cancel()
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.rpc.TransactionReceipt(waitCtx, signed.Hash())
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return hash, nil
			}
			reason, _ := e.RevertReason(ctx, hash)
			if reason == "" {
				reason = UnknownRevertReason
			}
			return hash, clierr.New(clierr.CodeOnChain, fmt.Sprintf("transaction %s reverted on-chain: %s", hash, reason))
		}
		select {
		case <-waitCtx.Done():
			return hash, clierr.Wrap(clierr.CodeActionTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (e *EVM) resolveTipCap(ctx context.Context) (*big.Int, error) {
	if strings.TrimSpace(e.opts.MaxPriorityFeeGwei) != "" {
		v, err := parseGwei(e.opts.MaxPriorityFeeGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := e.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	return feeCap.Add(feeCap, tipCap), nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

func parseABI(raw string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, clierr.Wrap(clierr.CodeInternal, "parse abi", err)
	}
	return parsed, nil
}

func toReceipt(r *types.Receipt) *Receipt {
	out := &Receipt{
		TxHash:  r.TxHash.Hex(),
		Success: r.Status == types.ReceiptStatusSuccessful,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}

var nonceLocks sync.Map

// acquireSignerNonceLock serializes transactions from one signer on one
// chain so wrap and approve never race for the same pending nonce.
func acquireSignerNonceLock(chainID *big.Int, from common.Address) func() {
	key := fmt.Sprintf("%s:%s", chainID.String(), strings.ToLower(from.Hex()))
	value, _ := nonceLocks.LoadOrStore(key, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
