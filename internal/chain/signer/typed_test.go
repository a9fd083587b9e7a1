package signer

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const permitFixture = `{
	"domain": {"name": "Permit2", "chainId": 137, "verifyingContract": "0x000000000022D473030F116dDEE9F6B43aC78BA3"},
	"types": {
		"PermitWitnessTransferFrom": [
			{"name": "permitted", "type": "TokenPermissions"},
			{"name": "spender", "type": "address"},
			{"name": "nonce", "type": "uint256"},
			{"name": "deadline", "type": "uint256"}
		],
		"TokenPermissions": [
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"}
		]
	},
	"values": {
		"permitted": {"token": "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", "amount": "1000000000000000000"},
		"spender": "0x1111111111111111111111111111111111111111",
		"nonce": "42",
		"deadline": 1700000000
	}
}`

func TestParseTypedDataInfersPrimaryAndDomain(t *testing.T) {
	td, err := ParseTypedData(json.RawMessage(permitFixture))
	if err != nil {
		t.Fatalf("ParseTypedData failed: %v", err)
	}
	if td.PrimaryType != "PermitWitnessTransferFrom" {
		t.Fatalf("unexpected primary type %q", td.PrimaryType)
	}
	if len(td.Types[domainType]) != 3 {
		t.Fatalf("expected synthesized domain with 3 fields, got %+v", td.Types[domainType])
	}
	if td.Message["deadline"] != "1700000000" {
		t.Fatalf("expected numeric values normalized to strings, got %#v", td.Message["deadline"])
	}
}

func TestSignTypedDataRecoversSigner(t *testing.T) {
	s, err := NewLocalSigner(LocalSignerConfig{PrivateKeyHex: testPrivateKey})
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	td, err := ParseTypedData(json.RawMessage(permitFixture))
	if err != nil {
		t.Fatalf("ParseTypedData failed: %v", err)
	}
	sig, err := s.SignTypedData(td)
	if err != nil {
		t.Fatalf("SignTypedData failed: %v", err)
	}
	if len(sig) != 65 || (sig[64] != 27 && sig[64] != 28) {
		t.Fatalf("unexpected signature shape %x", sig)
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		t.Fatalf("hash typed data: %v", err)
	}
	raw := append([]byte{}, sig...)
	raw[64] -= 27
	pub, err := crypto.SigToPub(hash, raw)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != s.Address() {
		t.Fatal("recovered address does not match signer")
	}
}

func TestParseTypedDataRejectsEmpty(t *testing.T) {
	for _, raw := range []string{"", "null", `{"domain":{},"types":{}}`} {
		if _, err := ParseTypedData(json.RawMessage(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
