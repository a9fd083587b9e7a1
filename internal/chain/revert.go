package chain

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	clierr "github.com/ggonzalez94/hubroute/internal/errors"
)

var (
	errorStringSelector = common.FromHex("0x08c379a0")
	panicSelector       = common.FromHex("0x4e487b71")
)

// decodeRevertData renders revert return data as a readable reason.
func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	selector, payload := data[:4], data[4:]
	switch {
	case bytes.Equal(selector, errorStringSelector):
		stringTy, _ := abi.NewType("string", "", nil)
		values, err := abi.Arguments{{Type: stringTy}}.Unpack(payload)
		if err != nil || len(values) == 0 {
			return "reverted with malformed Error(string)"
		}
		reason, _ := values[0].(string)
		return reason
	case bytes.Equal(selector, panicSelector):
		code := new(big.Int).SetBytes(payload)
		return fmt.Sprintf("panic code 0x%x", code)
	default:
		return fmt.Sprintf("custom error 0x%x", selector)
	}
}

// decodeRevertFromError extracts revert data carried by a JSON-RPC error.
func decodeRevertFromError(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch data := dataErr.ErrorData().(type) {
	case string:
		if !strings.HasPrefix(data, "0x") {
			return ""
		}
		return decodeRevertData(common.FromHex(data))
	case []byte:
		return decodeRevertData(data)
	default:
		return ""
	}
}

// wrapEVMExecutionError wraps err and appends the decoded revert reason when
// the node returned one.
func wrapEVMExecutionError(code clierr.Code, msg string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	return clierr.Wrap(code, msg, err)
}
