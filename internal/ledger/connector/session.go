// Package connector establishes authenticated sessions with a ledger replica
// and binds typed handles to the wallet ledger interface.
package connector

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/louisbranch/ledgerwallet/internal/ledger/identity"
	"github.com/louisbranch/ledgerwallet/internal/ledger/ledgeridl"
	"github.com/louisbranch/ledgerwallet/internal/ledger/principal"
	"github.com/louisbranch/ledgerwallet/internal/ledger/wire"
	apperrors "github.com/louisbranch/ledgerwallet/internal/platform/errors"
	platformgrpc "github.com/louisbranch/ledgerwallet/internal/platform/grpc"
	"github.com/louisbranch/ledgerwallet/internal/platform/timeouts"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RootKeyMode selects whether a session fetches the replica's root key.
type RootKeyMode string

const (
	// RootKeyAuto fetches the root key only from local development replicas.
	RootKeyAuto RootKeyMode = "auto"
	// RootKeyFetch always trusts the key the replica reports.
	RootKeyFetch RootKeyMode = "always"
	// RootKeyPinned never fetches; the configured key must be used.
	RootKeyPinned RootKeyMode = "never"
)

// ParseRootKeyMode validates a configured mode. Empty means RootKeyAuto.
func ParseRootKeyMode(value string) (RootKeyMode, error) {
	switch mode := RootKeyMode(strings.ToLower(strings.TrimSpace(value))); mode {
	case "":
		return RootKeyAuto, nil
	case RootKeyAuto, RootKeyFetch, RootKeyPinned:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown root key mode %q (want auto, always or never)", value)
	}
}

// Options configures InitializeSession.
type Options struct {
	// Endpoint is the replica URL, http:// or https://.
	Endpoint string
	// Identity signs requests. Nil means the anonymous identity.
	Identity identity.Identity
	// RootKey is the pinned Ed25519 root key used when no fetch happens.
	RootKey []byte
	// RootKeyMode controls the root-of-trust fetch.
	RootKeyMode RootKeyMode
	// DialTimeout bounds connect plus health check.
	DialTimeout time.Duration
	// DialOptions are appended to the default dial options.
	DialOptions []grpc.DialOption
	// Logf receives dial progress; nil discards it.
	Logf func(string, ...any)
}

// Session is an authenticated connection to one ledger replica. It is
// created once per process and shared by every handle bound to it.
type Session struct {
	endpoint *url.URL
	conn     *grpc.ClientConn
	identity identity.Identity
	rootKey  ed25519.PublicKey
}

// InitializeSession dials the replica, waits for it to report healthy and
// establishes the root of trust. Every failure is a connection error.
func InitializeSession(ctx context.Context, opts Options) (*Session, error) {
	endpoint, err := parseEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	mode := opts.RootKeyMode
	if mode == "" {
		mode = RootKeyAuto
	}
	id := opts.Identity
	if id == nil {
		id = identity.Anonymous{}
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = timeouts.GRPCDial
	}

	s := &Session{endpoint: endpoint, identity: id}

	var creds credentials.TransportCredentials
	if endpoint.Scheme == "https" {
		creds = credentials.NewTLS(&tls.Config{ServerName: endpoint.Hostname(), MinVersion: tls.VersionTLS12})
	}
	dialOpts := append(platformgrpc.ClientDialOptions(creds), grpc.WithChainUnaryInterceptor(s.signAndVerify))
	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := platformgrpc.Dial(ctx, endpoint.Host, "", timeout, opts.Logf, dialOpts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConnection, fmt.Sprintf("connect to ledger %s: %v", endpoint.Redacted(), err), err)
	}
	s.conn = conn

	if shouldFetchRootKey(mode, endpoint.Hostname()) {
		key, err := s.fetchRootKey(ctx)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		s.rootKey = key
		return s, nil
	}

	if len(opts.RootKey) != ed25519.PublicKeySize {
		_ = conn.Close()
		return nil, apperrors.New(apperrors.CodeConnection,
			fmt.Sprintf("ledger %s requires a pinned %d-byte root key, got %d bytes", endpoint.Redacted(), ed25519.PublicKeySize, len(opts.RootKey)))
	}
	s.rootKey = ed25519.PublicKey(append([]byte(nil), opts.RootKey...))
	return s, nil
}

// Principal returns the caller principal of the session identity.
func (s *Session) Principal() principal.Principal {
	return s.identity.Principal()
}

// Endpoint returns the replica URL.
func (s *Session) Endpoint() string {
	return s.endpoint.String()
}

// RootKey returns a copy of the trusted root key.
func (s *Session) RootKey() []byte {
	return append([]byte(nil), s.rootKey...)
}

// Close releases the connection. Sessions normally live until process exit.
func (s *Session) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Session) fetchRootKey(ctx context.Context) (ed25519.PublicKey, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeouts.RootKeyFetch)
	defer cancel()

	var reply wrapperspb.BytesValue
	if err := s.conn.Invoke(callCtx, ledgeridl.StatusRootKeyMethod, &emptypb.Empty{}, &reply); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConnection, fmt.Sprintf("fetch root key from %s: %v", s.endpoint.Redacted(), err), err)
	}
	key := reply.GetValue()
	if len(key) != ed25519.PublicKeySize {
		return nil, apperrors.New(apperrors.CodeConnection,
			fmt.Sprintf("malformed handshake from %s: root key is %d bytes, want %d", s.endpoint.Redacted(), len(key), ed25519.PublicKeySize))
	}
	return ed25519.PublicKey(key), nil
}

// signAndVerify attaches the request id and sender signature to every call
// and checks the replica's signature on responses once trust is established.
func (s *Session) signAndVerify(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	ctx = metadata.AppendToOutgoingContext(ctx, wire.RequestIDHeader, uuid.NewString())

	if pub := s.identity.PublicKey(); pub != nil {
		body, err := wire.Marshal(req)
		if err != nil {
			return err
		}
		sig, err := s.identity.Sign(wire.RequestPayload(method, body))
		if err != nil {
			return fmt.Errorf("sign %s: %w", method, err)
		}
		ctx = metadata.AppendToOutgoingContext(ctx,
			wire.SenderPublicKeyHeader, wire.EncodeBinary(pub),
			wire.SenderSignatureHeader, wire.EncodeBinary(sig),
		)
	}

	var trailer metadata.MD
	if err := invoker(ctx, method, req, reply, cc, append(opts, grpc.Trailer(&trailer))...); err != nil {
		return err
	}
	if unsignedMethod(method) {
		return nil
	}
	return s.verifyResponse(method, reply, trailer)
}

func (s *Session) verifyResponse(method string, reply any, trailer metadata.MD) error {
	values := trailer.Get(wire.ResponseSignatureHeader)
	if len(values) != 1 {
		return apperrors.New(apperrors.CodeRemote, fmt.Sprintf("%s: response is not signed", method))
	}
	sig, err := wire.DecodeBinary(values[0])
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRemote, fmt.Sprintf("%s: malformed response signature", method), err)
	}
	body, err := wire.Marshal(reply)
	if err != nil {
		return err
	}
	if !ed25519.Verify(s.rootKey, wire.ResponsePayload(method, body), sig) {
		return apperrors.New(apperrors.CodeRemote, fmt.Sprintf("%s: response signature does not match the root key", method))
	}
	return nil
}

// unsignedMethod reports calls that happen before trust exists.
func unsignedMethod(method string) bool {
	return method == ledgeridl.StatusRootKeyMethod || strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

func parseEndpoint(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperrors.New(apperrors.CodeConnection, "ledger endpoint is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConnection, fmt.Sprintf("parse ledger endpoint %q: %v", raw, err), err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return nil, apperrors.New(apperrors.CodeConnection, fmt.Sprintf("ledger endpoint %q must use http or https", raw))
	}
	if u.Hostname() == "" {
		return nil, apperrors.New(apperrors.CodeConnection, fmt.Sprintf("ledger endpoint %q has no host", raw))
	}
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		u.Host = net.JoinHostPort(u.Hostname(), port)
	}
	return u, nil
}

func shouldFetchRootKey(mode RootKeyMode, host string) bool {
	switch mode {
	case RootKeyFetch:
		return true
	case RootKeyPinned:
		return false
	default:
		return IsLocalHost(host)
	}
}

// IsLocalHost reports whether host names a local development replica.
func IsLocalHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
