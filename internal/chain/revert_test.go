package chain

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/hubroute/internal/errors"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

func TestDecodeRevertDataReasonString(t *testing.T) {
	if reason := decodeRevertData(encodeErrorString(t, "slippage too high")); reason != "slippage too high" {
		t.Fatalf("expected decoded revert reason, got %q", reason)
	}
}

func TestDecodeRevertDataPanicAndCustom(t *testing.T) {
	panicData := append(common.FromHex("0x4e487b71"), common.LeftPadBytes([]byte{0x11}, 32)...)
	if reason := decodeRevertData(panicData); reason != "panic code 0x11" {
		t.Fatalf("unexpected panic reason %q", reason)
	}
	if reason := decodeRevertData(common.FromHex("0x12345678")); !strings.Contains(reason, "0x12345678") {
		t.Fatalf("expected custom error selector in reason, got %q", reason)
	}
	if reason := decodeRevertData([]byte{0x01}); reason != "" {
		t.Fatalf("expected empty reason for short data, got %q", reason)
	}
}

func TestDecodeRevertFromErrorWithDataError(t *testing.T) {
	err := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "insufficient output amount")),
	}
	if reason := decodeRevertFromError(err); reason != "insufficient output amount" {
		t.Fatalf("unexpected decoded reason: %q", reason)
	}
	if reason := decodeRevertFromError(errors.New("plain")); reason != "" {
		t.Fatalf("expected no reason for plain error, got %q", reason)
	}
}

func TestWrapEVMExecutionErrorIncludesDecodedRevert(t *testing.T) {
	root := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "TRANSFER_FROM_FAILED")),
	}
	wrapped := wrapEVMExecutionError(clierr.CodeOnChain, "estimate gas", root)
	typed, ok := clierr.As(wrapped)
	if !ok || typed.Code != clierr.CodeOnChain {
		t.Fatalf("expected on-chain error, got %v", wrapped)
	}
	if !strings.Contains(typed.Error(), "TRANSFER_FROM_FAILED") {
		t.Fatalf("expected decoded reason in wrapped error, got: %v", typed)
	}
}

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("create abi string type: %v", err)
	}
	encoded, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append(common.FromHex("0x08c379a0"), encoded...)
}
