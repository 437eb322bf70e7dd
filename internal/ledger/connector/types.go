package connector

// User is an account record as the ledger reports it.
type User struct {
	Username string
	Balance  uint64
}

// Optional is a value that may be absent.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// IsPresent reports whether a value is present.
func (o Optional[T]) IsPresent() bool {
	return o.ok
}

// TransferResult is the outcome of a transfer: Ok, or Err with the reason
// the ledger gave.
type TransferResult struct {
	failed bool
	reason string
}

// TransferOK is the success variant.
func TransferOK() TransferResult {
	return TransferResult{}
}

// TransferErr is the failure variant carrying the ledger's reason verbatim.
func TransferErr(reason string) TransferResult {
	return TransferResult{failed: true, reason: reason}
}

// OK reports whether the transfer succeeded.
func (r TransferResult) OK() bool {
	return !r.failed
}

// Reason returns the failure reason; empty on success.
func (r TransferResult) Reason() string {
	return r.reason
}
