package connector

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/louisbranch/ledgerwallet/internal/ledger/identity"
	"github.com/louisbranch/ledgerwallet/internal/ledger/ledgeridl"
	"github.com/louisbranch/ledgerwallet/internal/ledger/ledgertest"
	apperrors "github.com/louisbranch/ledgerwallet/internal/platform/errors"
)

func startSession(t *testing.T, srv *ledgertest.Server, opts Options) *Session {
	t.Helper()
	opts.Endpoint = srv.Endpoint()
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 2 * time.Second
	}
	s, err := InitializeSession(context.Background(), opts)
	if err != nil {
		t.Fatalf("initialize session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func bindHandle(t *testing.T, s *Session, serviceID string) *Handle {
	t.Helper()
	h, err := CreateHandle(s, ledgeridl.MustLoad(), serviceID)
	if err != nil {
		t.Fatalf("create handle: %v", err)
	}
	return h
}

func newIdentity(t *testing.T) *identity.Ed25519 {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return id
}

func TestInitializeSessionFetchesLocalRootKey(t *testing.T) {
	srv := ledgertest.Start(t)
	s := startSession(t, srv, Options{})

	if !bytes.Equal(s.RootKey(), srv.RootKey()) {
		t.Fatalf("root key = %x, want %x", s.RootKey(), srv.RootKey())
	}
	if !s.Principal().IsAnonymous() {
		t.Fatalf("principal = %s, want anonymous", s.Principal())
	}
	if s.Endpoint() != srv.Endpoint() {
		t.Fatalf("endpoint = %q, want %q", s.Endpoint(), srv.Endpoint())
	}
}

func TestInitializeSessionRejectsBadEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{name: "empty", endpoint: ""},
		{name: "scheme", endpoint: "ftp://127.0.0.1:4943"},
		{name: "no host", endpoint: "http://"},
		{name: "unparsable", endpoint: "http://[::1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := InitializeSession(context.Background(), Options{Endpoint: tc.endpoint})
			if !errors.Is(err, apperrors.ErrConnection) {
				t.Fatalf("err = %v, want connection error", err)
			}
		})
	}
}

func TestInitializeSessionUnreachableReplica(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	start := time.Now()
	_, err = InitializeSession(context.Background(), Options{
		Endpoint:    "http://" + addr,
		DialTimeout: 200 * time.Millisecond,
	})
	if !errors.Is(err, apperrors.ErrConnection) {
		t.Fatalf("err = %v, want connection error", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("dial took %v, expected the dial timeout to bound it", elapsed)
	}
}

func TestInitializeSessionMalformedRootKey(t *testing.T) {
	srv := ledgertest.Start(t, ledgertest.WithRootKeyReply([]byte{1, 2, 3}))

	_, err := InitializeSession(context.Background(), Options{Endpoint: srv.Endpoint(), DialTimeout: 2 * time.Second})
	if !errors.Is(err, apperrors.ErrConnection) {
		t.Fatalf("err = %v, want connection error", err)
	}
}

func TestInitializeSessionPinnedMode(t *testing.T) {
	srv := ledgertest.Start(t)

	t.Run("missing key", func(t *testing.T) {
		_, err := InitializeSession(context.Background(), Options{
			Endpoint:    srv.Endpoint(),
			RootKeyMode: RootKeyPinned,
			DialTimeout: 2 * time.Second,
		})
		if !errors.Is(err, apperrors.ErrConnection) {
			t.Fatalf("err = %v, want connection error", err)
		}
	})

	t.Run("pinned key", func(t *testing.T) {
		s := startSession(t, srv, Options{RootKeyMode: RootKeyPinned, RootKey: srv.RootKey()})
		h := bindHandle(t, s, srv.ServiceID())
		if _, err := h.GetBalance(context.Background()); err != nil {
			t.Fatalf("get balance: %v", err)
		}
	})
}

func TestSessionRejectsResponsesSignedByAnotherKey(t *testing.T) {
	srv := ledgertest.Start(t)
	other, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := startSession(t, srv, Options{RootKeyMode: RootKeyPinned, RootKey: other})
	h := bindHandle(t, s, srv.ServiceID())

	_, err = h.GetBalance(context.Background())
	if !errors.Is(err, apperrors.ErrRemote) {
		t.Fatalf("err = %v, want remote error", err)
	}
}

func TestSessionRejectsUnsignedResponses(t *testing.T) {
	srv := ledgertest.Start(t, ledgertest.WithoutResponseSignatures())
	s := startSession(t, srv, Options{})
	h := bindHandle(t, s, srv.ServiceID())

	_, err := h.GetSelf(context.Background())
	if !errors.Is(err, apperrors.ErrRemote) {
		t.Fatalf("err = %v, want remote error", err)
	}
}

func TestSessionSendsDistinctRequestIDs(t *testing.T) {
	srv := ledgertest.Start(t)
	s := startSession(t, srv, Options{Identity: newIdentity(t)})
	h := bindHandle(t, s, srv.ServiceID())

	for i := 0; i < 2; i++ {
		if _, err := h.GetBalance(context.Background()); err != nil {
			t.Fatalf("get balance: %v", err)
		}
	}
	ids := srv.RequestIDs()
	if len(ids) != 2 {
		t.Fatalf("request ids = %v, want 2", ids)
	}
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("request id %q is not a uuid: %v", id, err)
		}
	}
	if ids[0] == ids[1] {
		t.Fatalf("request ids repeat: %v", ids)
	}
}

func TestParseRootKeyMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RootKeyMode
		wantErr bool
	}{
		{in: "", want: RootKeyAuto},
		{in: "auto", want: RootKeyAuto},
		{in: " Always ", want: RootKeyFetch},
		{in: "never", want: RootKeyPinned},
		{in: "sometimes", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseRootKeyMode(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseRootKeyMode(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseRootKeyMode(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestIsLocalHost(t *testing.T) {
	tests := map[string]bool{
		"localhost":          true,
		"LOCALHOST.":         true,
		"replica.localhost":  true,
		"127.0.0.1":          true,
		"127.1.2.3":          true,
		"::1":                true,
		"10.0.0.1":           false,
		"ledger.example.org": false,
		"":                   false,
	}
	for host, want := range tests {
		if got := IsLocalHost(host); got != want {
			t.Errorf("IsLocalHost(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestShouldFetchRootKey(t *testing.T) {
	if !shouldFetchRootKey(RootKeyAuto, "127.0.0.1") {
		t.Fatal("auto mode should fetch from loopback")
	}
	if shouldFetchRootKey(RootKeyAuto, "ledger.example.org") {
		t.Fatal("auto mode should not fetch from remote hosts")
	}
	if !shouldFetchRootKey(RootKeyFetch, "ledger.example.org") {
		t.Fatal("always mode should fetch")
	}
	if shouldFetchRootKey(RootKeyPinned, "localhost") {
		t.Fatal("never mode should not fetch")
	}
}

func TestParseEndpointFillsDefaultPort(t *testing.T) {
	u, err := parseEndpoint("https://ledger.example.org")
	if err != nil {
		t.Fatalf("parse endpoint: %v", err)
	}
	if u.Host != "ledger.example.org:443" {
		t.Fatalf("host = %q, want ledger.example.org:443", u.Host)
	}
	u, err = parseEndpoint("http://localhost")
	if err != nil {
		t.Fatalf("parse endpoint: %v", err)
	}
	if u.Host != "localhost:80" {
		t.Fatalf("host = %q, want localhost:80", u.Host)
	}
}
