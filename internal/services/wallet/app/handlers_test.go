package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/ledgerwallet/internal/ledger/connector"
	"github.com/louisbranch/ledgerwallet/internal/ledger/identity"
	"github.com/louisbranch/ledgerwallet/internal/ledger/ledgeridl"
	"github.com/louisbranch/ledgerwallet/internal/ledger/ledgertest"
	"github.com/louisbranch/ledgerwallet/internal/services/shared/htmx"
	"github.com/louisbranch/ledgerwallet/internal/services/shared/i18nhttp"
	"github.com/louisbranch/ledgerwallet/internal/services/wallet/view"
)

type harness struct {
	handler  http.Handler
	ledger   *ledgertest.Server
	identity *identity.Ed25519
	logs     *bytes.Buffer
}

func newHarness(t *testing.T) harness {
	t.Helper()
	srv := ledgertest.Start(t)
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	session, err := connector.InitializeSession(context.Background(), connector.Options{
		Endpoint:    srv.Endpoint(),
		Identity:    id,
		DialTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("initialize session: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	handle, err := connector.CreateHandle(session, ledgeridl.MustLoad(), srv.ServiceID())
	if err != nil {
		t.Fatalf("create handle: %v", err)
	}

	logs := &bytes.Buffer{}
	logger := log.New(logs, "", 0)
	v := view.New(handle, view.WithPrincipal(session.Principal()), view.WithLogger(logger.Printf))
	h, err := NewHandler(Config{View: v, Logger: logger})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return harness{handler: h, ledger: srv, identity: id, logs: logs}
}

func (h harness) do(t *testing.T, method, target string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, "http://wallet.test"+target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

var htmxHeaders = map[string]string{htmx.ResponseHeaderKey: "true", "Origin": "http://wallet.test"}

func TestNewHandlerRequiresView(t *testing.T) {
	if _, err := NewHandler(Config{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewServerRequiresAddress(t *testing.T) {
	if _, err := NewServer(context.Background(), Config{View: view.New(nil)}); err == nil {
		t.Fatal("expected error")
	}
	srv, err := NewServer(context.Background(), Config{HTTPAddr: " 127.0.0.1:0 ", View: view.New(nil)})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if srv.Addr() != "127.0.0.1:0" {
		t.Fatalf("addr = %q", srv.Addr())
	}
	srv.Close()
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	srv, err := NewServer(context.Background(), Config{HTTPAddr: "127.0.0.1:0", View: view.New(nil)})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("listen and serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestIndexRendersCreateFormForNewCaller(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") || !strings.Contains(body, `action="/account"`) {
		t.Fatalf("expected full page with create form, got %s", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
	if h.ledger.Calls(ledgeridl.MethodGetSelf) != 1 || h.ledger.Calls(ledgeridl.MethodGetBalance) != 1 {
		t.Fatal("expected one self and one balance read on mount")
	}
}

func TestCreateAccountAndTransferFlow(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/", nil, nil)

	rec := h.do(t, http.MethodPost, "/account", url.Values{"username": {"alice"}}, htmxHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "<!DOCTYPE html>") {
		t.Fatal("htmx request should receive the fragment only")
	}
	for _, want := range []string{"Account created successfully!", ">alice<", `action="/transfer"`, "0 tokens"} {
		if !strings.Contains(body, want) {
			t.Fatalf("create response missing %q: %s", want, body)
		}
	}

	bob, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	rec = h.do(t, http.MethodPost, "/transfer", url.Values{
		"recipient": {bob.Principal().String()},
		"amount":    {"100"},
	}, htmxHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("transfer status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ledgertest.InsufficientBalance) {
		t.Fatalf("expected remote reason verbatim: %s", rec.Body.String())
	}

	h.ledger.Credit(h.identity.Principal(), 1500)
	rec = h.do(t, http.MethodPost, "/transfer", url.Values{
		"recipient": {bob.Principal().String()},
		"amount":    {"500"},
	}, htmxHeaders)
	body = rec.Body.String()
	if !strings.Contains(body, "Transfer successful!") || !strings.Contains(body, "1,000 tokens") {
		t.Fatalf("expected success and refreshed balance: %s", body)
	}
	if got := h.ledger.Balance(bob.Principal()); got != 500 {
		t.Fatalf("bob balance = %d, want 500", got)
	}
}

func TestTransferParseErrorsStayLocal(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/", nil, nil)

	rec := h.do(t, http.MethodPost, "/transfer", url.Values{"recipient": {"aaaaa-aa"}, "amount": {"ten"}}, map[string]string{"Origin": "http://wallet.test"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a plain form post", rec.Code)
	}
	if h.ledger.Calls(ledgeridl.MethodTransferTokens) != 0 {
		t.Fatal("ledger called for invalid amount")
	}

	rec = h.do(t, http.MethodPost, "/transfer", url.Values{"recipient": {"nope"}, "amount": {"1"}}, htmxHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("htmx status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Recipient is not a valid principal") {
		t.Fatalf("expected recipient error: %s", rec.Body.String())
	}
	if h.ledger.Calls(ledgeridl.MethodTransferTokens) != 0 {
		t.Fatal("ledger called for invalid recipient")
	}
}

func TestRefreshBalance(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/", nil, nil)
	h.do(t, http.MethodPost, "/account", url.Values{"username": {"carol"}}, htmxHeaders)
	h.ledger.Credit(h.identity.Principal(), 42)

	rec := h.do(t, http.MethodPost, "/balance", url.Values{}, htmxHeaders)
	if !strings.Contains(rec.Body.String(), `data-balance="42"`) {
		t.Fatalf("expected refreshed balance: %s", rec.Body.String())
	}
}

func TestCrossOriginPostIsRejected(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/account", url.Values{"username": {"mallory"}}, map[string]string{"Origin": "http://evil.test"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if h.ledger.Calls(ledgeridl.MethodCreateAccount) != 0 {
		t.Fatal("cross-origin post reached the ledger")
	}
}

func TestLanguageSelection(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/?lang=pt-BR", nil, nil)
	if !strings.Contains(rec.Body.String(), "Criar conta") {
		t.Fatalf("expected Portuguese copy: %s", rec.Body.String())
	}
	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == i18nhttp.LangCookieName && c.Value == "pt-BR" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected language cookie")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/transfer", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestUnavailableViewBlocksEveryRoute(t *testing.T) {
	v := view.Unavailable(errors.New("connect to ledger http://127.0.0.1:1: connection refused"))
	handler, err := NewHandler(Config{View: v, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	for _, tc := range []struct {
		method string
		target string
	}{
		{http.MethodGet, "/"},
		{http.MethodPost, "/account"},
		{http.MethodPost, "/transfer"},
		{http.MethodPost, "/balance"},
		{http.MethodGet, "/healthz"},
	} {
		req := httptest.NewRequest(tc.method, "http://wallet.test"+tc.target, strings.NewReader(""))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s status = %d, want 503", tc.method, tc.target, rec.Code)
		}
		if tc.target != "/healthz" && !strings.Contains(rec.Body.String(), "connection refused") {
			t.Fatalf("%s %s body missing connection error: %s", tc.method, tc.target, rec.Body.String())
		}
	}
}
