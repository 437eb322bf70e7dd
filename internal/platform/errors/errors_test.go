package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(CodeParse, "amount is not a number", stderrors.New("strconv")))
	if !stderrors.Is(err, ErrParse) {
		t.Fatal("expected parse error to match ErrParse")
	}
	if stderrors.Is(err, ErrRemote) {
		t.Fatal("parse error must not match ErrRemote")
	}
}

func TestErrorMessageFallsBackToCause(t *testing.T) {
	err := Wrap(CodeRemote, "", stderrors.New("boom"))
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "boom")
	}
}

func TestCodeGRPCCode(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeParse, codes.InvalidArgument},
		{CodeValidation, codes.InvalidArgument},
		{CodePending, codes.FailedPrecondition},
		{CodeBinding, codes.Unimplemented},
		{CodeConnection, codes.Unavailable},
		{CodeRemote, codes.Internal},
		{CodeUnknown, codes.Internal},
	}
	for _, tc := range tests {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Errorf("%s.GRPCCode() = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestToGRPCStatusCarriesReason(t *testing.T) {
	err := WithMetadata(CodeValidation, "username is required", map[string]string{"field": "username"}).ToGRPCStatus()
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected gRPC status, got %v", err)
	}
	if st.Code() != codes.InvalidArgument {
		t.Fatalf("code = %v, want %v", st.Code(), codes.InvalidArgument)
	}
	reason, ok := ReasonFromStatus(st)
	if !ok || reason != string(CodeValidation) {
		t.Fatalf("reason = %q (%t), want %q", reason, ok, CodeValidation)
	}
}

func TestReasonFromStatusWithoutDetails(t *testing.T) {
	if _, ok := ReasonFromStatus(status.New(codes.Internal, "plain")); ok {
		t.Fatal("expected no reason for plain status")
	}
	if _, ok := ReasonFromStatus(nil); ok {
		t.Fatal("expected no reason for nil status")
	}
}

func TestCodeOfAndMeta(t *testing.T) {
	err := fmt.Errorf("transfer: %w", WithMetadata(CodeRemote, "Insufficient balance", map[string]string{"method": "TransferTokens"}))
	if got := CodeOf(err); got != CodeRemote {
		t.Fatalf("CodeOf = %s, want REMOTE", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %s, want UNKNOWN", got)
	}

	var domainErr *Error
	if !stderrors.As(err, &domainErr) || domainErr.Meta("method") != "TransferTokens" {
		t.Fatalf("Meta(method) = %q", domainErr.Meta("method"))
	}
	var nilErr *Error
	if nilErr.Meta("method") != "" {
		t.Fatal("expected empty metadata on nil error")
	}
}
