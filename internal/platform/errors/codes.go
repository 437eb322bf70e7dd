// Package errors provides coded errors shared by the wallet and its ledger client.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeConnection means a ledger session could not be established.
	CodeConnection Code = "CONNECTION"
	// CodeBinding means the interface descriptor does not match the remote service.
	CodeBinding Code = "BINDING"
	// CodeParse means user input (amount or principal) is malformed.
	CodeParse Code = "PARSE"
	// CodeRemote means the remote call failed or was rejected.
	CodeRemote Code = "REMOTE"

	// CodeValidation means input failed a local precondition.
	CodeValidation Code = "VALIDATION"
	// CodePending means the same operation is already in flight.
	CodePending Code = "PENDING"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeParse, CodeValidation:
		return codes.InvalidArgument
	case CodePending:
		return codes.FailedPrecondition
	case CodeBinding:
		return codes.Unimplemented
	case CodeConnection:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
