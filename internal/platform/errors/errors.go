package errors

import (
	stderrors "errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Domain tags the ErrorInfo details this module attaches to gRPC statuses.
const Domain = "ledgerwallet"

// Error is a coded wallet or ledger failure. Two Errors match under
// errors.Is when their codes are equal, so the sentinels below work for any
// message.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// Meta returns one metadata value.
func (e *Error) Meta(key string) string {
	if e == nil {
		return ""
	}
	return e.Metadata[key]
}

// New returns an Error with no cause or metadata.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata returns an Error carrying metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap returns an Error caused by err.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WrapWithMetadata returns an Error caused by err and carrying metadata.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata, Cause: cause}
}

var (
	ErrConnection = New(CodeConnection, "connection error")
	ErrBinding    = New(CodeBinding, "binding error")
	ErrParse      = New(CodeParse, "parse error")
	ErrRemote     = New(CodeRemote, "remote error")
	ErrValidation = New(CodeValidation, "validation error")
	ErrPending    = New(CodePending, "operation pending")
)

// CodeOf returns the code of the first Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// ToGRPCStatus encodes the error as a gRPC status whose ErrorInfo reason is
// the code and whose metadata is the error metadata.
func (e *Error) ToGRPCStatus() error {
	st := status.New(e.Code.GRPCCode(), e.Message)
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   Domain,
		Metadata: e.Metadata,
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// ReasonFromStatus returns the ErrorInfo reason attached to st, if any.
func ReasonFromStatus(st *status.Status) (string, bool) {
	if st == nil {
		return "", false
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			return info.GetReason(), true
		}
	}
	return "", false
}
