package app

import (
	"log"
	"net/http"

	"github.com/louisbranch/ledgerwallet/internal/platform/requestctx"
	"github.com/louisbranch/ledgerwallet/internal/services/shared/htmx"
	"github.com/louisbranch/ledgerwallet/internal/services/shared/httpx"
	"github.com/louisbranch/ledgerwallet/internal/services/shared/i18nhttp"
	"github.com/louisbranch/ledgerwallet/internal/services/wallet/templates"
	"github.com/louisbranch/ledgerwallet/internal/services/wallet/view"
)

type handlers struct {
	view   *view.View
	logger *log.Logger
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	if h.unavailable(w, r) {
		return
	}
	if err := h.view.Load(r.Context()); err != nil {
		h.logger.Printf("load wallet request_id=%s: %v", requestctx.RequestIDFromContext(r.Context()), err)
	}
	h.render(w, r, http.StatusOK)
}

func (h *handlers) createAccount(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func() error {
		return h.view.CreateAccount(r.Context(), r.PostFormValue("username"))
	})
}

func (h *handlers) transfer(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func() error {
		return h.view.Transfer(r.Context(), r.PostFormValue("recipient"), r.PostFormValue("amount"))
	})
}

func (h *handlers) refreshBalance(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func() error {
		return h.view.FetchBalance(r.Context())
	})
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.view.Snapshot().State == view.StateUnavailable {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("ledger unavailable\n"))
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}

// action runs one user action and re-renders the wallet. Failures are shown
// inside the page, so HTMX swaps always get 200; plain form posts get the
// client error status for bad input.
func (h *handlers) action(w http.ResponseWriter, r *http.Request, run func() error) {
	if h.unavailable(w, r) {
		return
	}
	if err := httpx.CheckSameOrigin(r); err != nil {
		h.logger.Printf("reject %s %s: %v origin=%q referer=%q", r.Method, r.URL.Path, err, r.Header.Get("Origin"), r.Header.Get("Referer"))
		data := h.pageData(w, r)
		htmx.RenderPage(w, r, templates.Forbidden(data), templates.Forbidden(data), http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}

	status := http.StatusOK
	if err := run(); err != nil {
		h.logger.Printf("%s %s request_id=%s: %v", r.Method, r.URL.Path, requestctx.RequestIDFromContext(r.Context()), err)
		if !htmx.IsHTMXRequest(r) {
			if code := httpx.HTTPStatus(err); code < http.StatusInternalServerError {
				status = code
			}
		}
	}
	h.render(w, r, status)
}

// unavailable renders the blocking page when the ledger session never came
// up. It reports whether it wrote the response.
func (h *handlers) unavailable(w http.ResponseWriter, r *http.Request) bool {
	if h.view.Snapshot().State != view.StateUnavailable {
		return false
	}
	page := templates.Unavailable(h.pageData(w, r))
	htmx.RenderPage(w, r, page, page, http.StatusServiceUnavailable)
	return true
}

func (h *handlers) render(w http.ResponseWriter, r *http.Request, status int) {
	data := h.pageData(w, r)
	htmx.RenderPage(w, r, templates.Wallet(data), templates.Page(data), status)
}

func (h *handlers) pageData(w http.ResponseWriter, r *http.Request) templates.PageData {
	tag, persist := i18nhttp.ResolveTag(r)
	if persist {
		i18nhttp.SetLanguageCookie(w, tag)
	}
	printer := i18nhttp.Printer(tag)
	return templates.PageData{
		Lang:      tag.String(),
		Printer:   printer,
		Snapshot:  h.view.Snapshot(),
		Languages: i18nhttp.BuildLanguageOptions(printer, "/", tag),
	}
}
