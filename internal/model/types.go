package model

import (
	"time"

	"github.com/ggonzalez94/hubroute/internal/chain"
	"github.com/ggonzalez94/hubroute/internal/swap"
	"github.com/ggonzalez94/hubroute/internal/token"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	ChainID   int64     `json:"chain_id,omitempty"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
}

// QuoteResult is a single hub quote next to the competing DEX amount.
type QuoteResult struct {
	Chain            token.Chain `json:"chain"`
	FromToken        token.Token `json:"from_token"`
	ToToken          token.Token `json:"to_token"`
	AmountIn         string      `json:"amount_in"`
	AmountInBase     string      `json:"amount_in_base"`
	OutAmount        string      `json:"out_amount"`
	OutAmountBase    string      `json:"out_amount_base"`
	MinAmountOut     string      `json:"min_amount_out"`
	DexOutAmount     string      `json:"dex_out_amount,omitempty"`
	PriceImprovement string      `json:"price_improvement_pct,omitempty"`
	NoLiquidity      bool        `json:"no_liquidity"`
	SessionID        string      `json:"session_id,omitempty"`
	LatencyMS        int64       `json:"latency_ms"`
}

// RouteResult is the owner decision for a proposed swap.
type RouteResult struct {
	Quote       QuoteResult `json:"quote"`
	Owner       string      `json:"owner"`
	Control     string      `json:"control,omitempty"`
	HubEnabled  bool        `json:"hub_enabled"`
	CircuitOpen bool        `json:"circuit_open"`
	Approved    bool        `json:"approved"`
	ButtonText  string      `json:"button_text,omitempty"`
}

// SwapResult is the outcome of `hubroute swap`.
type SwapResult struct {
	Owner    string               `json:"owner"`
	Executed bool                 `json:"executed"`
	Status   string               `json:"status"`
	Steps    swap.Steps           `json:"steps"`
	Details  swap.Details         `json:"details"`
	OnChain  *chain.ReceiptResult `json:"on_chain,omitempty"`
	Reason   string               `json:"reason,omitempty"`
}

// WatchTick is one poll of `hubroute watch`.
type WatchTick struct {
	At               time.Time `json:"at"`
	Owner            string    `json:"owner"`
	OutAmount        string    `json:"out_amount,omitempty"`
	DexOutAmount     string    `json:"dex_out_amount,omitempty"`
	PriceImprovement string    `json:"price_improvement_pct,omitempty"`
	Error            string    `json:"error,omitempty"`
}

type PrefsView struct {
	Key        string `json:"key"`
	HubEnabled bool   `json:"hub_enabled"`
	Control    string `json:"control"`
}
