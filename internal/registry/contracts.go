package registry

// Permit2Address is the spender every hub order pulls funds through.
const Permit2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

// Wrapped native token contracts; a native sell is wrapped here before it
// can be spent through permit2.
var wrappedNativeByChainID = map[int64]string{
	1:     "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
	10:    "0x4200000000000000000000000000000000000006",
	56:    "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
	137:   "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
	1101:  "0x4F9A0e7FD2Bf6067db6994CF12E4495Df938E6e9",
	8453:  "0x4200000000000000000000000000000000000006",
	42161: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
	43114: "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7",
	59144: "0xe5D7C2a44FfDDf6b295A15c148167daaAf5Cf34f",
}

func WrappedNative(chainID int64) (string, bool) {
	value, ok := wrappedNativeByChainID[chainID]
	return value, ok
}

var explorerByChainID = map[int64]string{
	1:     "https://etherscan.io",
	10:    "https://optimistic.etherscan.io",
	56:    "https://bscscan.com",
	137:   "https://polygonscan.com",
	1101:  "https://zkevm.polygonscan.com",
	8453:  "https://basescan.org",
	42161: "https://arbiscan.io",
	43114: "https://snowtrace.io",
	59144: "https://lineascan.build",
}

// ExplorerTxURL links a transaction hash on the chain's block explorer.
func ExplorerTxURL(chainID int64, txHash string) (string, bool) {
	base, ok := explorerByChainID[chainID]
	if !ok || txHash == "" {
		return "", false
	}
	return base + "/tx/" + txHash, true
}
