package telemetry

import "github.com/google/uuid"

const (
	Version = 0.2

	unset = "null"

	StatePending = "pending"
	StateSuccess = "success"
	StateFailed  = "failed"

	ReasonWrapFailed      = "wrap failed"
	ReasonApprovalFailed  = "approval failed"
	ReasonSignatureFailed = "signature failed"
	ReasonSwapFailed      = "swap failed"
	ReasonOnChainFailed   = "onchain swap error"
	ReasonQuoteFailed     = "quote-failed"

	// DexPriceBetter is reported by hosts when the DEX beat the hub; it is
	// not a quote failure.
	DexPriceBetter = "Dex trade is better than Clob trade"
)

// Record is one trade attempt as sent to the reporting endpoint. Field names
// are the endpoint's wire format.
type Record struct {
	ID                            string  `json:"_id"`
	Partner                       string  `json:"partner,omitempty"`
	ChainID                       int64   `json:"chainId,omitempty"`
	SessionID                     string  `json:"sessionId,omitempty"`
	IsClobTrade                   bool    `json:"isClobTrade"`
	IsNotClobTradeReason          string  `json:"isNotClobTradeReason"`
	FirstFailureSessionID         string  `json:"firstFailureSessionId"`
	ClobDexPriceDiffPercent       string  `json:"clobDexPriceDiffPercent"`
	QuoteIndex                    int     `json:"quoteIndex"`
	QuoteState                    string  `json:"quoteState"`
	ApprovalState                 string  `json:"approvalState"`
	SignatureState                string  `json:"signatureState"`
	SwapState                     string  `json:"swapState"`
	WrapState                     string  `json:"wrapState"`
	OnChainClobSwapState          string  `json:"onChainClobSwapState"`
	OnChainDexSwapState           string  `json:"onChainDexSwapState"`
	DexSwapState                  string  `json:"dexSwapState"`
	DexSwapError                  string  `json:"dexSwapError"`
	DexSwapTxHash                 string  `json:"dexSwapTxHash"`
	UserWasApprovedBeforeTheTrade *bool   `json:"userWasApprovedBeforeTheTrade"`
	IsForceClob                   bool    `json:"isForceClob"`
	IsDexTrade                    bool    `json:"isDexTrade"`
	Version                       float64 `json:"version"`

	DexAmountOut    string  `json:"dexAmountOut,omitempty"`
	DstAmountOutUSD float64 `json:"dstAmountOutUsd,omitempty"`
	SrcTokenAddress string  `json:"srcTokenAddress,omitempty"`
	SrcTokenSymbol  string  `json:"srcTokenSymbol,omitempty"`
	DstTokenAddress string  `json:"dstTokenAddress,omitempty"`
	DstTokenSymbol  string  `json:"dstTokenSymbol,omitempty"`
	SrcAmount       string  `json:"srcAmount,omitempty"`
	Slippage        float64 `json:"slippage,omitempty"`
	WalletAddress   string  `json:"walletAddress,omitempty"`

	QuoteAmountOut       string `json:"quoteAmountOut,omitempty"`
	QuoteSerializedOrder string `json:"quoteSerializedOrder,omitempty"`
	QuoteMillis          int64  `json:"quoteMillis,omitempty"`
	QuoteError           string `json:"quoteError,omitempty"`

	WrapMillis      int64  `json:"wrapMillis,omitempty"`
	WrapError       string `json:"wrapError,omitempty"`
	ApprovalMillis  int64  `json:"approvalMillis,omitempty"`
	ApprovalError   string `json:"approvalError,omitempty"`
	SignatureMillis int64  `json:"signatureMillis,omitempty"`
	SignatureError  string `json:"signatureError,omitempty"`
	Signature       string `json:"signature,omitempty"`
	SwapMillis      int64  `json:"swapMillis,omitempty"`
	SwapError       string `json:"swapError,omitempty"`
	TxHash          string `json:"txHash,omitempty"`
}

func newRecord(partner string, chainID int64) Record {
	return Record{
		ID:                      uuid.NewString(),
		Partner:                 partner,
		ChainID:                 chainID,
		IsNotClobTradeReason:    unset,
		FirstFailureSessionID:   unset,
		ClobDexPriceDiffPercent: unset,
		QuoteState:              unset,
		ApprovalState:           unset,
		SignatureState:          unset,
		SwapState:               unset,
		WrapState:               unset,
		OnChainClobSwapState:    unset,
		OnChainDexSwapState:     unset,
		DexSwapState:            unset,
		DexSwapError:            unset,
		DexSwapTxHash:           unset,
		Version:                 Version,
	}
}
