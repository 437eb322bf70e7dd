// Package ledgertest runs an in-process ledger replica for tests. It speaks
// the wallet ledger interface over real gRPC on a loopback port, generates a
// fresh root key on every start and signs every response with it, just like
// a local development replica.
package ledgertest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/ledgerwallet/internal/ledger/identity"
	"github.com/louisbranch/ledgerwallet/internal/ledger/ledgeridl"
	"github.com/louisbranch/ledgerwallet/internal/ledger/principal"
	"github.com/louisbranch/ledgerwallet/internal/ledger/wire"
	apperrors "github.com/louisbranch/ledgerwallet/internal/platform/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DefaultServiceID is the service principal the replica answers for.
const DefaultServiceID = "aaaaa-aa"

// InsufficientBalance is the reason returned for overdrafts.
const InsufficientBalance = "Insufficient balance"

// Option customises a Server.
type Option func(*Server)

// WithServiceID answers for a different service principal.
func WithServiceID(id string) Option {
	return func(s *Server) { s.serviceID = principal.MustParse(id) }
}

// WithRootKeyReply makes the status method return key instead of the real
// root key, to simulate a malformed handshake.
func WithRootKeyReply(key []byte) Option {
	return func(s *Server) { s.rootKeyReply = key }
}

// WithoutResponseSignatures stops signing responses.
func WithoutResponseSignatures() Option {
	return func(s *Server) { s.unsigned = true }
}

// WithMethods restricts the served wallet methods, to simulate a service
// whose interface differs from the client's descriptor.
func WithMethods(names ...string) Option {
	return func(s *Server) { s.served = names }
}

type account struct {
	username string
	balance  uint64
}

// Server is a running fake replica.
type Server struct {
	listener net.Listener
	srv      *grpc.Server

	rootKey      ed25519.PrivateKey
	rootKeyReply []byte
	unsigned     bool
	serviceID    principal.Principal
	served       []string

	mu         sync.Mutex
	accounts   map[string]account // by caller principal text
	usernames  map[string]string  // username to principal text
	balances   map[string]uint64  // by principal text
	calls      map[string]int     // by short method name
	failures   map[string]error   // one-shot injected failures
	requestIDs []string
	release    map[string]chan struct{}
}

// Start launches a replica on 127.0.0.1 and stops it when the test ends.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s, err := New(opts...)
	if err != nil {
		t.Fatalf("start ledger replica: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

// New launches a replica on an ephemeral loopback port.
func New(opts ...Option) (*Server, error) {
	_, rootKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate root key: %w", err)
	}
	s := &Server{
		rootKey:   rootKey,
		serviceID: principal.MustParse(DefaultServiceID),
		served:    ledgeridl.Methods,
		accounts:  map[string]account{},
		usernames: map[string]string{},
		balances:  map[string]uint64{},
		calls:     map[string]int{},
		failures:  map[string]error{},
		release:   map[string]chan struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}

	descriptor, err := ledgeridl.Load()
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s.listener = listener
	s.srv = grpc.NewServer()
	s.srv.RegisterService(s.walletServiceDesc(descriptor), s)
	s.srv.RegisterService(s.statusServiceDesc(), s)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.srv, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(string(ledgeridl.ServiceName), grpc_health_v1.HealthCheckResponse_SERVING)

	go func() { _ = s.srv.Serve(listener) }()
	return s, nil
}

// Endpoint returns the replica URL for connector.Options.
func (s *Server) Endpoint() string {
	return "http://" + s.listener.Addr().String()
}

// ServiceID returns the service principal text.
func (s *Server) ServiceID() string {
	return s.serviceID.String()
}

// RootKey returns the public root key responses are signed with.
func (s *Server) RootKey() []byte {
	return []byte(s.rootKey.Public().(ed25519.PublicKey))
}

// Stop shuts the replica down.
func (s *Server) Stop() {
	s.mu.Lock()
	for name, ch := range s.release {
		close(ch)
		delete(s.release, name)
	}
	s.mu.Unlock()
	s.srv.Stop()
}

// Credit adds tokens to a principal's balance.
func (s *Server) Credit(p principal.Principal, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[p.String()] += amount
}

// Balance returns a principal's balance.
func (s *Server) Balance(p principal.Principal) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[p.String()]
}

// Calls returns how many times a wallet method was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// RequestIDs returns the request ids seen so far.
func (s *Server) RequestIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requestIDs...)
}

// FailNext makes the next call to method fail with a gRPC status.
func (s *Server) FailNext(method string, code codes.Code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = status.Error(code, message)
}

// Hold blocks calls to method until the returned release func runs.
func (s *Server) Hold(method string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.release[method] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.release[method] == ch {
				delete(s.release, method)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

type walletImpl func(caller principal.Principal, req, resp *dynamicpb.Message) error

func (s *Server) walletServiceDesc(descriptor *ledgeridl.Descriptor) *grpc.ServiceDesc {
	impls := map[string]walletImpl{
		ledgeridl.MethodCreateAccount:  s.createAccount,
		ledgeridl.MethodGetBalance:     s.getBalance,
		ledgeridl.MethodGetSelf:        s.getSelf,
		ledgeridl.MethodTransferTokens: s.transferTokens,
	}
	desc := &grpc.ServiceDesc{
		ServiceName: string(ledgeridl.ServiceName),
		HandlerType: (*any)(nil),
		Metadata:    ledgeridl.FileName,
	}
	for _, name := range s.served {
		m, ok := descriptor.Method(name)
		if !ok {
			continue
		}
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    s.handler(m, impls[name]),
		})
	}
	return desc
}

func (s *Server) handler(m protoreflect.MethodDescriptor, impl walletImpl) grpc.MethodHandler {
	fullMethod := ledgeridl.FullMethod(m)
	name := string(m.Name())
	return func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		req := dynamicpb.NewMessage(m.Input())
		if err := dec(req); err != nil {
			return nil, err
		}
		caller, err := s.authenticate(ctx, fullMethod, req)
		if err != nil {
			return nil, err
		}
		if err := s.enter(ctx, name); err != nil {
			return nil, err
		}
		resp := dynamicpb.NewMessage(m.Output())
		if err := impl(caller, req, resp); err != nil {
			return nil, err
		}
		if err := s.sign(ctx, fullMethod, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}
}

// authenticate checks the target service and the sender signature.
func (s *Server) authenticate(ctx context.Context, fullMethod string, req *dynamicpb.Message) (principal.Principal, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	s.mu.Lock()
	s.requestIDs = append(s.requestIDs, first(md, wire.RequestIDHeader))
	s.mu.Unlock()

	if target := first(md, wire.ServiceIDHeader); target != s.serviceID.String() {
		return principal.Principal{}, status.Errorf(codes.NotFound, "service %q not found", target)
	}
	pubText := first(md, wire.SenderPublicKeyHeader)
	if pubText == "" {
		return principal.Anonymous(), nil
	}
	pub, err := wire.DecodeBinary(pubText)
	if err != nil {
		return principal.Principal{}, status.Error(codes.Unauthenticated, "malformed sender public key")
	}
	sig, err := wire.DecodeBinary(first(md, wire.SenderSignatureHeader))
	if err != nil {
		return principal.Principal{}, status.Error(codes.Unauthenticated, "malformed sender signature")
	}
	body, err := wire.Marshal(req)
	if err != nil {
		return principal.Principal{}, status.Error(codes.Internal, err.Error())
	}
	caller, err := identity.Verify(pub, wire.RequestPayload(fullMethod, body), sig)
	if err != nil {
		return principal.Principal{}, status.Error(codes.Unauthenticated, err.Error())
	}
	return caller, nil
}

// enter records the call, applies injected failures and honours Hold.
func (s *Server) enter(ctx context.Context, name string) error {
	s.mu.Lock()
	s.calls[name]++
	failure := s.failures[name]
	delete(s.failures, name)
	hold := s.release[name]
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case <-time.After(10 * time.Second):
			return status.Error(codes.DeadlineExceeded, "held call was never released")
		}
	}
	return failure
}

func (s *Server) sign(ctx context.Context, fullMethod string, resp any) error {
	if s.unsigned {
		return nil
	}
	body, err := wire.Marshal(resp)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	sig := ed25519.Sign(s.rootKey, wire.ResponsePayload(fullMethod, body))
	return grpc.SetTrailer(ctx, metadata.Pairs(wire.ResponseSignatureHeader, wire.EncodeBinary(sig)))
}

func (s *Server) createAccount(caller principal.Principal, req, resp *dynamicpb.Message) error {
	user := req.Get(req.Descriptor().Fields().ByName("user")).Message()
	userFields := user.Descriptor().Fields()
	username := user.Get(userFields.ByName("username")).String()
	if username == "" {
		return apperrors.WithMetadata(apperrors.CodeValidation, "username is required", map[string]string{"field": "username"}).ToGRPCStatus()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.usernames[username]; ok {
		existing := s.accounts[owner]
		setUser(resp, "user", existing.username, s.balances[owner])
		return nil
	}
	id := caller.String()
	s.usernames[username] = id
	s.accounts[id] = account{username: username}
	s.balances[id] = user.Get(userFields.ByName("balance")).Uint()
	setUser(resp, "user", username, s.balances[id])
	return nil
}

func (s *Server) getBalance(caller principal.Principal, _, resp *dynamicpb.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp.Set(resp.Descriptor().Fields().ByName("balance"), protoreflect.ValueOfUint64(s.balances[caller.String()]))
	return nil
}

func (s *Server) getSelf(caller principal.Principal, _, resp *dynamicpb.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := caller.String()
	acct := s.accounts[id]
	setUser(resp, "user", acct.username, s.balances[id])
	return nil
}

func (s *Server) transferTokens(caller principal.Principal, req, resp *dynamicpb.Message) error {
	fields := req.Descriptor().Fields()
	to, err := principal.FromBytes(req.Get(fields.ByName("to")).Bytes())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	amount := req.Get(fields.ByName("amount")).Uint()

	s.mu.Lock()
	defer s.mu.Unlock()
	out := resp.Descriptor().Fields()
	from := caller.String()
	if s.balances[from] < amount {
		resp.Set(out.ByName("err"), protoreflect.ValueOfString(InsufficientBalance))
		return nil
	}
	s.balances[from] -= amount
	s.balances[to.String()] += amount
	okField := out.ByName("ok")
	resp.Set(okField, protoreflect.ValueOfMessage(dynamicpb.NewMessage(okField.Message())))
	return nil
}

func setUser(resp *dynamicpb.Message, field protoreflect.Name, username string, balance uint64) {
	fd := resp.Descriptor().Fields().ByName(field)
	user := dynamicpb.NewMessage(fd.Message())
	user.Set(fd.Message().Fields().ByName("username"), protoreflect.ValueOfString(username))
	user.Set(fd.Message().Fields().ByName("balance"), protoreflect.ValueOfUint64(balance))
	resp.Set(fd, protoreflect.ValueOfMessage(user))
}

func (s *Server) statusServiceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: "ledger.agent.v1.Status",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "RootKey",
			Handler: func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				if err := dec(&emptypb.Empty{}); err != nil {
					return nil, err
				}
				if s.rootKeyReply != nil {
					return wrapperspb.Bytes(s.rootKeyReply), nil
				}
				return wrapperspb.Bytes(s.RootKey()), nil
			},
		}},
	}
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
