package swap

import (
	"github.com/ggonzalez94/hubroute/internal/amount"
	"github.com/ggonzalez94/hubroute/internal/registry"
)

// ButtonText is the confirm label for a hub swap.
func ButtonText(fromNative, approved bool) string {
	switch {
	case fromNative:
		return "Wrap and swap"
	case !approved:
		return "Approve and swap"
	default:
		return "Sign and Swap"
	}
}

// Details is the human-readable summary of a session.
type Details struct {
	FromSymbol       string  `json:"from_symbol"`
	ToSymbol         string  `json:"to_symbol"`
	FromAmount       string  `json:"from_amount"`
	ToAmount         string  `json:"to_amount"`
	MinAmountOut     string  `json:"min_amount_out"`
	DexAmountOut     string  `json:"dex_amount_out,omitempty"`
	PriceImprovement string  `json:"price_improvement_pct,omitempty"`
	FromUSD          float64 `json:"from_usd,omitempty"`
	ToUSD            float64 `json:"to_usd,omitempty"`
	TxHash           string  `json:"tx_hash,omitempty"`
	ExplorerURL      string  `json:"explorer_url,omitempty"`
}

// NewDetails renders s for display; slippage is a percent.
func NewDetails(s Session, chainID int64, slippage float64) Details {
	var d Details
	if s.FromToken == nil || s.ToToken == nil {
		return d
	}
	d.FromSymbol = s.FromToken.Symbol
	d.ToSymbol = s.ToToken.Symbol
	d.FromAmount = amount.ToHumanUnits(s.FromToken.Decimals, s.FromAmount)
	d.FromUSD = amount.USDValue(s.FromAmount, s.FromToken.Decimals, s.FromTokenUSD)
	if s.Quote != nil {
		out := s.Quote.OutAmount
		d.ToAmount = amount.ToHumanUnits(s.ToToken.Decimals, out)
		d.MinAmountOut = amount.ToHumanUnits(s.ToToken.Decimals, amount.ApplySlippageDown(out, slippage))
		d.ToUSD = amount.USDValue(out, s.ToToken.Decimals, s.ToTokenUSD)
		d.PriceImprovement = amount.PercentDiff(out, s.DexOut)
	}
	d.DexAmountOut = amount.ToHumanUnits(s.ToToken.Decimals, s.DexOut)
	if s.TxHash != "" {
		d.TxHash = s.TxHash
		d.ExplorerURL, _ = registry.ExplorerTxURL(chainID, s.TxHash)
	}
	return d
}
