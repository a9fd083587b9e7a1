package signer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const domainType = "EIP712Domain"

// permitPayload is the shape the hub returns in a quote's permitData. The
// message may arrive as "values" or "message" and the domain type and
// primary type may be omitted.
type permitPayload struct {
	Domain      map[string]any `json:"domain"`
	Types       apitypes.Types `json:"types"`
	PrimaryType string         `json:"primaryType"`
	Values      map[string]any `json:"values"`
	Message     map[string]any `json:"message"`
}

// ParseTypedData turns a permit payload into EIP-712 typed data ready to hash.
func ParseTypedData(raw json.RawMessage) (apitypes.TypedData, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return apitypes.TypedData{}, fmt.Errorf("permit payload is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var p permitPayload
	if err := dec.Decode(&p); err != nil {
		return apitypes.TypedData{}, fmt.Errorf("decode permit payload: %w", err)
	}
	if len(p.Types) == 0 {
		return apitypes.TypedData{}, fmt.Errorf("permit payload has no types")
	}
	message := p.Values
	if message == nil {
		message = p.Message
	}
	if message == nil {
		return apitypes.TypedData{}, fmt.Errorf("permit payload has no message values")
	}

	domain, err := parseDomain(p.Domain)
	if err != nil {
		return apitypes.TypedData{}, err
	}
	types := apitypes.Types{}
	for name, fields := range p.Types {
		types[name] = fields
	}
	if _, ok := types[domainType]; !ok {
		types[domainType] = domainFields(domain)
	}
	primary := strings.TrimSpace(p.PrimaryType)
	if primary == "" {
		primary, err = derivePrimaryType(types)
		if err != nil {
			return apitypes.TypedData{}, err
		}
	}
	return apitypes.TypedData{
		Types:       types,
		PrimaryType: primary,
		Domain:      domain,
		Message:     normalizeNumbers(message).(map[string]any),
	}, nil
}

func parseDomain(in map[string]any) (apitypes.TypedDataDomain, error) {
	var d apitypes.TypedDataDomain
	if in == nil {
		return d, fmt.Errorf("permit payload has no domain")
	}
	d.Name, _ = in["name"].(string)
	d.Version, _ = in["version"].(string)
	d.VerifyingContract, _ = in["verifyingContract"].(string)
	d.Salt, _ = in["salt"].(string)
	if raw, ok := in["chainId"]; ok && raw != nil {
		id, ok := math.ParseBig256(fmt.Sprint(raw))
		if !ok {
			return d, fmt.Errorf("invalid domain chainId %v", raw)
		}
		d.ChainId = (*math.HexOrDecimal256)(new(big.Int).Set(id))
	}
	return d, nil
}

func domainFields(d apitypes.TypedDataDomain) []apitypes.Type {
	var out []apitypes.Type
	if d.Name != "" {
		out = append(out, apitypes.Type{Name: "name", Type: "string"})
	}
	if d.Version != "" {
		out = append(out, apitypes.Type{Name: "version", Type: "string"})
	}
	if d.ChainId != nil {
		out = append(out, apitypes.Type{Name: "chainId", Type: "uint256"})
	}
	if d.VerifyingContract != "" {
		out = append(out, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	if d.Salt != "" {
		out = append(out, apitypes.Type{Name: "salt", Type: "bytes32"})
	}
	return out
}

// derivePrimaryType picks the single struct no other struct references.
func derivePrimaryType(types apitypes.Types) (string, error) {
	referenced := map[string]bool{}
	for name, fields := range types {
		if name == domainType {
			continue
		}
		for _, f := range fields {
			referenced[strings.TrimSuffix(f.Type, "[]")] = true
		}
	}
	var roots []string
	for name := range types {
		if name != domainType && !referenced[name] {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)
	if len(roots) != 1 {
		return "", fmt.Errorf("cannot infer primary type from %v", roots)
	}
	return roots[0], nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		return val.String()
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	default:
		return v
	}
}
