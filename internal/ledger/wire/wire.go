// Package wire defines the metadata and signing payloads exchanged between a
// wallet session and a ledger replica.
package wire

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Metadata keys carried on ledger calls.
const (
	// RequestIDHeader carries a per-call request id.
	RequestIDHeader = "x-ledger-request-id"
	// ServiceIDHeader names the target service as a textual principal.
	ServiceIDHeader = "x-ledger-service-id"
	// SenderPublicKeyHeader carries the caller's raw Ed25519 public key.
	SenderPublicKeyHeader = "x-ledger-sender-pubkey"
	// SenderSignatureHeader carries the caller's signature of RequestPayload.
	SenderSignatureHeader = "x-ledger-sender-signature"
	// ResponseSignatureHeader is a trailer with the replica's signature of
	// ResponsePayload, made with its root key.
	ResponseSignatureHeader = "x-ledger-signature"
)

const (
	requestDomain  = "ledger-request"
	responseDomain = "ledger-response"
)

// RequestPayload is what a caller signs for method with the encoded request.
func RequestPayload(method string, body []byte) []byte {
	return payload(requestDomain, method, body)
}

// ResponsePayload is what a replica signs for method with the encoded response.
func ResponsePayload(method string, body []byte) []byte {
	return payload(responseDomain, method, body)
}

func payload(domain, method string, body []byte) []byte {
	out := make([]byte, 0, len(domain)+len(method)+len(body)+2)
	out = append(out, domain...)
	out = append(out, 0)
	out = append(out, method...)
	out = append(out, 0)
	return append(out, body...)
}

// Marshal encodes a message deterministically so both ends sign the same bytes.
func Marshal(msg any) ([]byte, error) {
	m, ok := msg.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("ledger payload %T is not a protobuf message", msg)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

// EncodeBinary renders binary metadata values.
func EncodeBinary(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBinary parses a value produced by EncodeBinary.
func DecodeBinary(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
