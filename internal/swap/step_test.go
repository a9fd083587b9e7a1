package swap

import (
	"reflect"
	"testing"
)

func TestApplicableSteps(t *testing.T) {
	cases := []struct {
		native, approved bool
		want             []Step
	}{
		{false, true, []Step{StepSign, StepSendTx}},
		{false, false, []Step{StepApprove, StepSign, StepSendTx}},
		{true, false, []Step{StepWrap, StepApprove, StepSign, StepSendTx}},
		{true, true, []Step{StepWrap, StepSign, StepSendTx}},
	}
	for _, tc := range cases {
		got := ApplicableSteps(tc.native, tc.approved)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ApplicableSteps(%v, %v) = %v, want %v", tc.native, tc.approved, got, tc.want)
		}
	}
}

func TestStepTransitions(t *testing.T) {
	steps := NewSteps(ApplicableSteps(false, true))
	if err := steps.Begin(StepWrap); err == nil {
		t.Fatal("expected error starting an inapplicable step")
	}
	if err := steps.Begin(StepSendTx); err == nil {
		t.Fatal("expected error starting a step out of order")
	}
	if err := steps.Finish(StepSign, true); err == nil {
		t.Fatal("expected error finishing a step that never started")
	}
	if err := steps.Begin(StepSign); err != nil {
		t.Fatalf("Begin(SIGN) failed: %v", err)
	}
	if steps.Current != StepSign || steps.StatusOf(StepSign) != StatusLoading {
		t.Fatalf("unexpected state after begin: %+v", steps)
	}
	if err := steps.Finish(StepSign, false); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if err := steps.Begin(StepSign); err == nil {
		t.Fatal("failed step must be terminal")
	}
	if err := steps.Begin(StepSendTx); err == nil {
		t.Fatal("SEND_TX must not start after a failed SIGN")
	}
	if _, ok := steps.Status[StepWrap]; ok {
		t.Fatal("inapplicable steps must have no status")
	}
}

func TestButtonText(t *testing.T) {
	if got := ButtonText(true, false); got != "Wrap and swap" {
		t.Fatalf("unexpected native label %q", got)
	}
	if got := ButtonText(false, false); got != "Approve and swap" {
		t.Fatalf("unexpected approve label %q", got)
	}
	if got := ButtonText(false, true); got != "Sign and Swap" {
		t.Fatalf("unexpected sign label %q", got)
	}
}
