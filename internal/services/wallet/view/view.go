// Package view holds the wallet page state machine. One View serves the
// whole process: it owns the cached account, balance and the last action's
// messages, and drives the ledger handle on behalf of the page.
package view

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/louisbranch/ledgerwallet/internal/ledger/connector"
	"github.com/louisbranch/ledgerwallet/internal/ledger/principal"
	apperrors "github.com/louisbranch/ledgerwallet/internal/platform/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/louisbranch/ledgerwallet/internal/services/wallet/view"

// Ledger is the subset of connector.Handle the view drives.
type Ledger interface {
	CreateAccount(ctx context.Context, user connector.User) (connector.Optional[connector.User], error)
	GetBalance(ctx context.Context) (uint64, error)
	GetSelf(ctx context.Context) (connector.User, error)
	TransferTokens(ctx context.Context, recipient principal.Principal, amount uint64) (connector.TransferResult, error)
}

// State is the page state.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateNoAccount
	StateHasAccount
	// StateUnavailable is terminal: the session could not be established.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateNoAccount:
		return "no_account"
	case StateHasAccount:
		return "has_account"
	case StateUnavailable:
		return "unavailable"
	default:
		return "uninitialized"
	}
}

// Option configures a View.
type Option func(*View)

// WithLogger routes the view's log lines, for example failed self lookups.
func WithLogger(logf func(string, ...any)) Option {
	return func(v *View) {
		if logf != nil {
			v.logf = logf
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(v *View) {
		if tp != nil {
			v.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithPrincipal records the caller principal shown on the page.
func WithPrincipal(p principal.Principal) Option {
	return func(v *View) { v.caller = p.String() }
}

type operation string

const (
	opCreateAccount operation = "create_account"
	opTransfer      operation = "transfer"
)

// View is the wallet page state. It is safe for concurrent use; ledger calls
// never run while the state lock is held.
type View struct {
	ledger Ledger
	tracer trace.Tracer
	logf   func(string, ...any)
	caller string

	mu         sync.Mutex
	state      State
	account    connector.User
	balance    uint64
	errNotice  Notice
	okNotice   Notice
	pending    map[operation]bool
	connectErr string
}

// New returns a Ready view bound to ledger.
func New(ledger Ledger, opts ...Option) *View {
	v := newView(opts...)
	v.ledger = ledger
	if ledger != nil {
		v.state = StateReady
	}
	return v
}

// Unavailable returns a terminal view for a session that could not be
// established. Every operation on it fails with err.
func Unavailable(err error, opts ...Option) *View {
	v := newView(opts...)
	v.state = StateUnavailable
	if err != nil {
		v.connectErr = err.Error()
	}
	return v
}

func newView(opts ...Option) *View {
	v := &View{
		tracer:  otel.Tracer(tracerName),
		logf:    log.Printf,
		pending: map[operation]bool{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Load runs the initial reads: the caller's account, then the balance. A
// caller without an account lands in StateNoAccount.
func (v *View) Load(ctx context.Context) error {
	ctx, span := v.tracer.Start(ctx, "wallet.view.Load")
	defer span.End()

	if err := v.usable(); err != nil {
		return endSpan(span, err)
	}
	v.clearNotices()
	_ = v.FetchSelf(ctx)

	v.mu.Lock()
	if v.state == StateReady {
		v.state = StateNoAccount
	}
	v.mu.Unlock()

	return endSpan(span, v.refreshBalance(ctx))
}

// FetchSelf reads the caller's account. Failures are logged and never shown.
func (v *View) FetchSelf(ctx context.Context) error {
	ctx, span := v.tracer.Start(ctx, "wallet.view.FetchSelf")
	defer span.End()

	if err := v.usable(); err != nil {
		return endSpan(span, err)
	}
	user, err := v.ledger.GetSelf(ctx)
	if err != nil {
		v.logf("fetch self failed: %v", err)
		return endSpan(span, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if user.Username == "" {
		v.account = connector.User{}
		v.state = StateNoAccount
	} else {
		v.account = user
		v.state = StateHasAccount
	}
	span.SetAttributes(attribute.String("wallet.state", v.state.String()))
	return nil
}

// FetchBalance re-reads the balance as a user action. A failure shows a
// generic error and keeps the balance already displayed.
func (v *View) FetchBalance(ctx context.Context) error {
	if err := v.usable(); err != nil {
		return err
	}
	v.clearNotices()
	return v.refreshBalance(ctx)
}

func (v *View) refreshBalance(ctx context.Context) error {
	ctx, span := v.tracer.Start(ctx, "wallet.view.FetchBalance")
	defer span.End()

	balance, err := v.ledger.GetBalance(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.errNotice = Notice{Key: MsgFetchBalanceFailed}
		return endSpan(span, err)
	}
	v.balance = balance
	span.SetAttributes(attribute.String("wallet.balance", strconv.FormatUint(balance, 10)))
	return nil
}

// CreateAccount registers the caller under username with a zero balance.
func (v *View) CreateAccount(ctx context.Context, username string) error {
	ctx, span := v.tracer.Start(ctx, "wallet.view.CreateAccount")
	defer span.End()

	if err := v.usable(); err != nil {
		return endSpan(span, err)
	}
	v.clearNotices()

	username = strings.TrimSpace(username)
	if username == "" {
		err := apperrors.WithMetadata(apperrors.CodeValidation, "username is required", map[string]string{"field": "username"})
		v.setError(Notice{Key: MsgUsernameRequired})
		return endSpan(span, err)
	}
	if err := v.begin(opCreateAccount); err != nil {
		return endSpan(span, err)
	}
	defer v.finish(opCreateAccount)

	result, err := v.ledger.CreateAccount(ctx, connector.User{Username: username, Balance: 0})
	if err != nil {
		v.setError(Notice{Key: MsgCreateAccountFailed, Detail: reason(err)})
		return endSpan(span, err)
	}
	user, ok := result.Get()
	if !ok {
		err := apperrors.New(apperrors.CodeRemote, "ledger did not return an account")
		v.setError(Notice{Key: MsgAccountNotCreated})
		return endSpan(span, err)
	}

	v.mu.Lock()
	v.account = user
	v.state = StateHasAccount
	v.okNotice = Notice{Key: MsgAccountCreated}
	v.mu.Unlock()

	return endSpan(span, v.refreshBalance(ctx))
}

// Transfer parses the form input and moves tokens to the recipient. Parse
// failures are reported before the ledger is called.
func (v *View) Transfer(ctx context.Context, recipientText, amountText string) error {
	ctx, span := v.tracer.Start(ctx, "wallet.view.Transfer")
	defer span.End()

	if err := v.usable(); err != nil {
		return endSpan(span, err)
	}
	v.clearNotices()

	amount, err := ParseAmount(amountText)
	if err != nil {
		v.setError(Notice{Key: MsgInvalidAmount, Detail: strings.TrimSpace(amountText)})
		return endSpan(span, err)
	}
	recipient, err := principal.Parse(recipientText)
	if err != nil {
		v.setError(Notice{Key: MsgInvalidRecipient, Detail: strings.TrimSpace(recipientText)})
		return endSpan(span, err)
	}
	if err := v.begin(opTransfer); err != nil {
		return endSpan(span, err)
	}
	defer v.finish(opTransfer)

	span.SetAttributes(attribute.String("wallet.recipient", recipient.String()))
	result, err := v.ledger.TransferTokens(ctx, recipient, amount)
	if err != nil {
		v.setError(Notice{Key: MsgTransferFailed, Detail: reason(err)})
		return endSpan(span, err)
	}
	if !result.OK() {
		v.setError(Notice{Detail: result.Reason()})
		return endSpan(span, apperrors.WithMetadata(apperrors.CodeRemote, result.Reason(), map[string]string{"method": "TransferTokens"}))
	}

	v.mu.Lock()
	v.okNotice = Notice{Key: MsgTransferSucceeded}
	v.mu.Unlock()

	return endSpan(span, v.refreshBalance(ctx))
}

// ParseAmount parses a token amount as an unsigned 64-bit integer.
func ParseAmount(text string) (uint64, error) {
	trimmed := strings.TrimSpace(text)
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		reason := "not a whole number"
		if errors.Is(err, strconv.ErrRange) {
			reason = "out of range"
		}
		return 0, apperrors.WrapWithMetadata(apperrors.CodeParse,
			"invalid amount "+strconv.Quote(trimmed)+": "+reason,
			map[string]string{"field": "amount"}, err)
	}
	return amount, nil
}

// Snapshot returns a copy of the state for rendering.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot{
		State:           v.state,
		Username:        v.account.Username,
		Balance:         v.balance,
		Principal:       v.caller,
		Error:           v.errNotice,
		Success:         v.okNotice,
		CreatePending:   v.pending[opCreateAccount],
		TransferPending: v.pending[opTransfer],
		ConnectionError: v.connectErr,
	}
}

func (v *View) usable() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.state {
	case StateUnavailable:
		return apperrors.New(apperrors.CodeConnection, v.connectErr)
	case StateUninitialized:
		return apperrors.New(apperrors.CodeConnection, "ledger session is not initialized")
	}
	return nil
}

// begin marks op in flight. A second submission of the same kind is
// rejected until the first finishes.
func (v *View) begin(op operation) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pending[op] {
		v.errNotice = Notice{Key: MsgInProgress}
		return apperrors.WithMetadata(apperrors.CodePending, string(op)+" is already in progress", map[string]string{"operation": string(op)})
	}
	v.pending[op] = true
	return nil
}

func (v *View) finish(op operation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pending, op)
}

func (v *View) clearNotices() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errNotice = Notice{}
	v.okNotice = Notice{}
}

func (v *View) setError(n Notice) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errNotice = n
}

// reason is the text shown after a failure label.
func reason(err error) string {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return err.Error()
}

func endSpan(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	span.SetAttributes(attribute.String("wallet.error_code", string(apperrors.CodeOf(err))))
	return err
}
