package token

import "testing"

func TestParseChainVariants(t *testing.T) {
	chain, err := ParseChain("polygon")
	if err != nil {
		t.Fatalf("ParseChain(polygon) failed: %v", err)
	}
	if chain.ID != 137 {
		t.Fatalf("unexpected id: %d", chain.ID)
	}

	chain, err = ParseChain("56")
	if err != nil {
		t.Fatalf("ParseChain(56) failed: %v", err)
	}
	if chain.Slug != "bsc" {
		t.Fatalf("unexpected slug: %s", chain.Slug)
	}

	chain, err = ParseChain("eip155:999999")
	if err != nil {
		t.Fatalf("ParseChain(eip155:999999) failed: %v", err)
	}
	if chain.ID != 999999 {
		t.Fatalf("unexpected chain ID: %d", chain.ID)
	}

	if _, err := ParseChain("moon"); err == nil {
		t.Fatal("expected unsupported chain error")
	}
}

func TestIsNativeMarkers(t *testing.T) {
	for _, addr := range []string{ZeroAddress, "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE", "native"} {
		if !IsNative(addr) {
			t.Fatalf("expected %s to be native", addr)
		}
		if ProtocolAddress(addr) != ZeroAddress {
			t.Fatalf("expected zero sentinel for %s", addr)
		}
	}
	usdc := "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359"
	if IsNative(usdc) || ProtocolAddress(usdc) != usdc {
		t.Fatal("erc20 must pass through unchanged")
	}
}

func TestParseTokenForms(t *testing.T) {
	chain, _ := ParseChain("polygon")

	tok, err := Parse("USDC", chain)
	if err != nil || tok.Decimals != 6 {
		t.Fatalf("unexpected symbol parse: %+v %v", tok, err)
	}

	tok, err = Parse("matic", chain)
	if err != nil || !tok.IsNative() || tok.Symbol != "MATIC" {
		t.Fatalf("unexpected native parse: %+v %v", tok, err)
	}

	tok, err = Parse("0x1111111111111111111111111111111111111111:8:abc", chain)
	if err != nil || tok.Decimals != 8 || tok.Symbol != "ABC" {
		t.Fatalf("unexpected explicit parse: %+v %v", tok, err)
	}

	if _, err := Parse("0x1111111111111111111111111111111111111111", chain); err == nil {
		t.Fatal("expected unknown address error")
	}
}
