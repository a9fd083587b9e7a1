package registry

import (
	"encoding/json"
	"testing"
)

func TestABIsAreValidJSON(t *testing.T) {
	for name, raw := range map[string]string{"erc20": ERC20MinimalABI, "wrapped": WrappedNativeABI} {
		var parsed []map[string]any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			t.Fatalf("%s abi is not valid JSON: %v", name, err)
		}
	}
}

func TestEndpoints(t *testing.T) {
	if got := QuoteURL("https://hub.example/", 137); got != "https://hub.example/quote?chainId=137" {
		t.Fatalf("unexpected quote url %s", got)
	}
	if got := SubmitURL("", 56); got != HubAPIURL+"/swapx?chainId=56" {
		t.Fatalf("unexpected submit url %s", got)
	}
}

func TestWrappedNativeAndExplorer(t *testing.T) {
	if _, ok := WrappedNative(137); !ok {
		t.Fatal("expected polygon wrapped native")
	}
	if _, ok := WrappedNative(999); ok {
		t.Fatal("unexpected wrapped native for unknown chain")
	}
	url, ok := ExplorerTxURL(56, "0xabc")
	if !ok || url != "https://bscscan.com/tx/0xabc" {
		t.Fatalf("unexpected explorer url %s", url)
	}
}

func TestResolveRPCURL(t *testing.T) {
	if got, err := ResolveRPCURL(" http://localhost:8545 ", 1); err != nil || got != "http://localhost:8545" {
		t.Fatalf("override not honored: %s %v", got, err)
	}
	if _, err := ResolveRPCURL("", 424242); err == nil {
		t.Fatal("expected missing rpc error")
	}
}
