package chain

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// dataError matches the rpc error shape go-ethereum returns when a call
// reverts: the ABI-encoded revert payload rides in ErrorData.
type dataError interface {
	Error() string
	ErrorData() interface{}
}

// asRevert translates an RPC error into a *RevertError when it carries a
// decodable revert reason, so callers can surface the contract's message
// verbatim. Anything else passes through unchanged.
func asRevert(err error) error {
	if err == nil {
		return nil
	}

	var de dataError
	if errors.As(err, &de) {
		if payload, ok := de.ErrorData().(string); ok {
			if reason, ok := decodeRevertReason(payload); ok {
				return &RevertError{Reason: reason}
			}
		}
	}

	// Some nodes inline the reason into the error string instead of
	// attaching structured data.
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted: "); idx >= 0 {
		return &RevertError{Reason: msg[idx+len("execution reverted: "):]}
	}
	if strings.Contains(msg, "execution reverted") {
		return &RevertError{}
	}
	return err
}

// decodeRevertReason unpacks a hex-encoded Error(string) revert payload.
func decodeRevertReason(payload string) (string, bool) {
	raw, err := hex.DecodeString(strings.TrimPrefix(payload, "0x"))
	if err != nil {
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}
