package chain

import (
	"errors"
	"strings"
	"testing"
)

// fakeDataError mimics the structured rpc error go-ethereum surfaces for
// reverted calls.
type fakeDataError struct {
	msg  string
	data interface{}
}

func (e *fakeDataError) Error() string          { return e.msg }
func (e *fakeDataError) ErrorData() interface{} { return e.data }

// Error(string) payload for reason "RoundClosed".
const roundClosedPayload = "0x08c379a0" +
	"0000000000000000000000000000000000000000000000000000000000000020" +
	"000000000000000000000000000000000000000000000000000000000000000b" +
	"526f756e64436c6f736564000000000000000000000000000000000000000000"

func TestAsRevertDecodesStructuredPayload(t *testing.T) {
	err := asRevert(&fakeDataError{msg: "execution reverted", data: roundClosedPayload})

	var revert *RevertError
	if !errors.As(err, &revert) {
		t.Fatalf("expected *RevertError, got %T: %v", err, err)
	}
	if revert.Reason != "RoundClosed" {
		t.Errorf("expected reason RoundClosed, got %q", revert.Reason)
	}
	if !strings.Contains(revert.Error(), "RoundClosed") {
		t.Errorf("error string should contain reason: %q", revert.Error())
	}
}

func TestAsRevertFallsBackToErrorString(t *testing.T) {
	err := asRevert(errors.New("execution reverted: RoundClosed"))

	var revert *RevertError
	if !errors.As(err, &revert) {
		t.Fatalf("expected *RevertError, got %T: %v", err, err)
	}
	if revert.Reason != "RoundClosed" {
		t.Errorf("expected reason RoundClosed, got %q", revert.Reason)
	}
}

func TestAsRevertPassesThroughOtherErrors(t *testing.T) {
	original := errors.New("connection refused")
	if got := asRevert(original); got != original {
		t.Errorf("expected passthrough, got %v", got)
	}
	if asRevert(nil) != nil {
		t.Error("nil should stay nil")
	}
}
