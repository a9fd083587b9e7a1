// Package token holds the token and chain model shared by quoting and
// execution, including the native-asset sentinel used in protocol calls.
package token

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/hubroute/internal/errors"
)

// ZeroAddress is the protocol sentinel for a chain's native asset.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// nativeMarkers are partner-specific spellings of the native asset.
var nativeMarkers = map[string]struct{}{
	ZeroAddress: {},
	"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee": {},
	"native": {},
}

var evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

type Token struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol"`
	LogoURL  string `json:"logo_url,omitempty"`
}

// IsNative reports whether the token stands for the chain's native asset.
func (t Token) IsNative() bool { return IsNative(t.Address) }

// ProtocolAddress returns the address sent to the hub: the zero address for
// native assets and the token address otherwise.
func (t Token) ProtocolAddress() string { return ProtocolAddress(t.Address) }

func IsNative(address string) bool {
	_, ok := nativeMarkers[strings.ToLower(strings.TrimSpace(address))]
	return ok
}

func ProtocolAddress(address string) string {
	if IsNative(address) {
		return ZeroAddress
	}
	return strings.TrimSpace(address)
}

type Chain struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	ID           int64  `json:"id"`
	NativeSymbol string `json:"native_symbol"`
}

var chainBySlug = map[string]Chain{
	"ethereum":  {Name: "Ethereum", Slug: "ethereum", ID: 1, NativeSymbol: "ETH"},
	"mainnet":   {Name: "Ethereum", Slug: "ethereum", ID: 1, NativeSymbol: "ETH"},
	"optimism":  {Name: "Optimism", Slug: "optimism", ID: 10, NativeSymbol: "ETH"},
	"bsc":       {Name: "BSC", Slug: "bsc", ID: 56, NativeSymbol: "BNB"},
	"polygon":   {Name: "Polygon", Slug: "polygon", ID: 137, NativeSymbol: "MATIC"},
	"zkevm":     {Name: "Polygon zkEVM", Slug: "zkevm", ID: 1101, NativeSymbol: "ETH"},
	"base":      {Name: "Base", Slug: "base", ID: 8453, NativeSymbol: "ETH"},
	"arbitrum":  {Name: "Arbitrum", Slug: "arbitrum", ID: 42161, NativeSymbol: "ETH"},
	"avalanche": {Name: "Avalanche", Slug: "avalanche", ID: 43114, NativeSymbol: "AVAX"},
	"linea":     {Name: "Linea", Slug: "linea", ID: 59144, NativeSymbol: "ETH"},
}

var chainByID = func() map[int64]Chain {
	out := make(map[int64]Chain, len(chainBySlug))
	for _, c := range chainBySlug {
		out[c.ID] = c
	}
	return out
}()

// Small bootstrap registry so the CLI can accept symbols.
var tokenRegistry = map[int64][]Token{
	1: {
		{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	},
	56: {
		{Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
		{Symbol: "USDC", Address: "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d", Decimals: 18},
		{Symbol: "WBNB", Address: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", Decimals: 18},
	},
	137: {
		{Symbol: "USDC", Address: "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", Decimals: 6},
		{Symbol: "USDT", Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
		{Symbol: "WMATIC", Address: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", Decimals: 18},
		{Symbol: "WETH", Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18},
	},
	8453: {
		{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	42161: {
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
	},
}

func ParseChain(input string) (Chain, error) {
	norm := strings.ToLower(strings.TrimSpace(input))
	if norm == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	if c, ok := chainBySlug[norm]; ok {
		return c, nil
	}
	norm = strings.TrimPrefix(norm, "eip155:")
	if id, err := strconv.ParseInt(norm, 10, 64); err == nil && id > 0 {
		if c, ok := chainByID[id]; ok {
			return c, nil
		}
		return Chain{Name: fmt.Sprintf("EVM-%d", id), Slug: fmt.Sprintf("evm-%d", id), ID: id, NativeSymbol: "ETH"}, nil
	}
	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// Parse resolves a token from a symbol, "native", an address, or the
// explicit form address:decimals[:symbol].
func Parse(input string, chain Chain) (Token, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Token{}, clierr.New(clierr.CodeUsage, "token is required")
	}
	if strings.EqualFold(raw, "native") || strings.EqualFold(raw, chain.NativeSymbol) {
		return Token{Address: ZeroAddress, Decimals: 18, Symbol: chain.NativeSymbol}, nil
	}

	if strings.Contains(raw, ":") {
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 || !evmAddressPattern.MatchString(parts[0]) {
			return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid token %q: expected address:decimals[:symbol]", input))
		}
		decimals, err := strconv.Atoi(parts[1])
		if err != nil || decimals < 0 || decimals > 36 {
			return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid token decimals in %q", input))
		}
		t := Token{Address: parts[0], Decimals: decimals}
		if len(parts) == 3 {
			t.Symbol = strings.ToUpper(parts[2])
		} else if known, ok := LookupByAddress(chain.ID, parts[0]); ok {
			t.Symbol = known.Symbol
		}
		return t, nil
	}

	if evmAddressPattern.MatchString(raw) {
		if IsNative(raw) {
			return Token{Address: ZeroAddress, Decimals: 18, Symbol: chain.NativeSymbol}, nil
		}
		known, ok := LookupByAddress(chain.ID, raw)
		if !ok {
			return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("token %s is not in the registry for chain %d; pass address:decimals", raw, chain.ID))
		}
		return known, nil
	}

	for _, t := range tokenRegistry[chain.ID] {
		if strings.EqualFold(t.Symbol, raw) {
			return t, nil
		}
	}
	return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s not found in registry for chain %d", input, chain.ID))
}

func LookupByAddress(chainID int64, address string) (Token, bool) {
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Address, strings.TrimSpace(address)) {
			return t, true
		}
	}
	return Token{}, false
}
