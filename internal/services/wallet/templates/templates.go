// Package templates renders the wallet page. Components write escaped HTML
// directly; every piece of user or ledger supplied text goes through
// templ.EscapeString and is never used as a format string.
package templates

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/louisbranch/ledgerwallet/internal/platform/branding"
	"github.com/louisbranch/ledgerwallet/internal/services/shared/i18nhttp"
	"github.com/louisbranch/ledgerwallet/internal/services/wallet/view"
	"golang.org/x/text/message"
)

// WalletID is the element id HTMX swaps after each action.
const WalletID = "wallet"

// HTMXScript is the script tag loading HTMX. Forms still work without it.
const HTMXScript = `<script src="https://unpkg.com/htmx.org@2.0.4/dist/htmx.min.js" defer></script>`

// PageData is everything one render needs.
type PageData struct {
	Lang      string
	Printer   *message.Printer
	Snapshot  view.Snapshot
	Languages []i18nhttp.LanguageOption
}

func (d PageData) t(key string) string {
	if d.Printer == nil {
		return key
	}
	return d.Printer.Sprintf(key)
}

func (d PageData) notice(n view.Notice) string {
	switch {
	case n.Key == "":
		return n.Detail
	case n.Detail == "":
		return d.t(n.Key)
	default:
		return d.t(n.Key) + ": " + n.Detail
	}
}

func (d PageData) tokens(balance uint64) string {
	if d.Printer == nil {
		return ""
	}
	return d.Printer.Sprintf("wallet.account.tokens", balance)
}

// Page is the full wallet document.
func Page(data PageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		document(hw, data, data.t("wallet.title"), func() {
			_ = Wallet(data).Render(ctx, hw)
		})
		return hw.err
	})
}

// Wallet is the swappable wallet fragment: notices, then either the create
// account form or the account card with the transfer form.
func Wallet(data PageData) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		snap := data.Snapshot

		hw.raw(`<section id="` + WalletID + `" class="wallet" data-state="` + snap.State.String() + `">`)
		if !snap.Error.IsZero() {
			hw.raw(`<div class="notice notice-error" role="alert">`)
			hw.text(data.notice(snap.Error))
			hw.raw(`</div>`)
		}
		if !snap.Success.IsZero() {
			hw.raw(`<div class="notice notice-success" role="status">`)
			hw.text(data.notice(snap.Success))
			hw.raw(`</div>`)
		}

		switch {
		case snap.ShowAccount():
			accountCard(hw, data)
			transferForm(hw, data)
		case snap.ShowCreateForm():
			createForm(hw, data)
		}
		hw.raw(`</section>`)
		return hw.err
	})
}

// Unavailable is the blocking page shown when no ledger session exists.
func Unavailable(data PageData) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		document(hw, data, data.t("wallet.unavailable.heading"), func() {
			hw.raw(`<section id="` + WalletID + `" class="wallet" data-state="unavailable">`)
			hw.raw(`<h2>`)
			hw.text(data.t("wallet.unavailable.heading"))
			hw.raw(`</h2><p>`)
			hw.text(data.t("wallet.unavailable.body"))
			hw.raw(`</p>`)
			if detail := strings.TrimSpace(data.Snapshot.ConnectionError); detail != "" {
				hw.raw(`<pre class="notice notice-error" role="alert">`)
				hw.text(detail)
				hw.raw(`</pre>`)
			}
			hw.raw(`</section>`)
		})
		return hw.err
	})
}

// Forbidden is the body of a rejected cross-origin POST.
func Forbidden(data PageData) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.raw(`<div class="notice notice-error" role="alert">`)
		hw.text(data.t("wallet.error.forbidden"))
		hw.raw(`</div>`)
		return hw.err
	})
}

func document(hw *htmlWriter, data PageData, title string, body func()) {
	lang := data.Lang
	if lang == "" {
		lang = i18nhttp.Default().String()
	}
	hw.raw(`<!DOCTYPE html><html lang="`)
	hw.text(lang)
	hw.raw(`"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><meta name="application-name" content="`)
	hw.text(branding.AppName)
	hw.raw(`"><title>`)
	hw.text(title)
	hw.raw(`</title>` + HTMXScript + `</head><body><header><h1>`)
	hw.text(data.t("wallet.title"))
	hw.raw(`</h1>`)
	languageSwitcher(hw, data)
	hw.raw(`</header><main>`)
	body()
	hw.raw(`</main></body></html>`)
}

func languageSwitcher(hw *htmlWriter, data PageData) {
	if len(data.Languages) == 0 {
		return
	}
	hw.raw(`<nav aria-label="`)
	hw.text(data.t("nav.language"))
	hw.raw(`"><ul>`)
	for _, option := range data.Languages {
		hw.raw(`<li><a href="`)
		hw.text(option.URL)
		hw.raw(`" hreflang="`)
		hw.text(option.Tag)
		if option.Active {
			hw.raw(`" aria-current="true`)
		}
		hw.raw(`">`)
		hw.text(option.Label)
		hw.raw(`</a></li>`)
	}
	hw.raw(`</ul></nav>`)
}

func createForm(hw *htmlWriter, data PageData) {
	hw.raw(`<h2>`)
	hw.text(data.t("wallet.create.heading"))
	hw.raw(`</h2>`)
	formOpen(hw, "/account")
	hw.raw(`<input type="text" name="username" required placeholder="`)
	hw.text(data.t("wallet.create.username"))
	hw.raw(`" aria-label="`)
	hw.text(data.t("wallet.create.username"))
	hw.raw(`">`)
	submit(hw, data, "wallet.create.submit", data.Snapshot.CreatePending)
	hw.raw(`</form>`)
}

func accountCard(hw *htmlWriter, data PageData) {
	snap := data.Snapshot
	hw.raw(`<div class="account"><p>`)
	hw.text(data.t("wallet.account.welcome"))
	hw.raw(`</p><p class="username">`)
	hw.text(snap.Username)
	hw.raw(`</p><p>`)
	hw.text(data.t("wallet.account.balance"))
	hw.raw(`</p><p class="balance" data-balance="`)
	hw.text(strconv.FormatUint(snap.Balance, 10))
	hw.raw(`">`)
	hw.text(data.tokens(snap.Balance))
	hw.raw(`</p>`)
	if snap.Principal != "" {
		hw.raw(`<p>`)
		hw.text(data.t("wallet.account.principal"))
		hw.raw(`</p><p class="principal"><code>`)
		hw.text(snap.Principal)
		hw.raw(`</code></p>`)
	}
	formOpen(hw, "/balance")
	submit(hw, data, "wallet.account.refresh", false)
	hw.raw(`</form></div>`)
}

func transferForm(hw *htmlWriter, data PageData) {
	hw.raw(`<h2>`)
	hw.text(data.t("wallet.transfer.heading"))
	hw.raw(`</h2>`)
	formOpen(hw, "/transfer")
	hw.raw(`<input type="text" name="recipient" required placeholder="`)
	hw.text(data.t("wallet.transfer.recipient"))
	hw.raw(`" aria-label="`)
	hw.text(data.t("wallet.transfer.recipient"))
	hw.raw(`"><input type="text" inputmode="numeric" name="amount" required placeholder="`)
	hw.text(data.t("wallet.transfer.amount"))
	hw.raw(`" aria-label="`)
	hw.text(data.t("wallet.transfer.amount"))
	hw.raw(`">`)
	submit(hw, data, "wallet.transfer.submit", data.Snapshot.TransferPending)
	hw.raw(`</form>`)
}

func formOpen(hw *htmlWriter, action string) {
	hw.raw(`<form method="post" action="` + action + `" hx-post="` + action +
		`" hx-target="#` + WalletID + `" hx-swap="outerHTML" hx-disabled-elt="find button">`)
}

func submit(hw *htmlWriter, data PageData, labelKey string, pending bool) {
	if pending {
		hw.raw(`<button type="submit" disabled aria-busy="true">`)
		hw.text(data.t("wallet.pending"))
	} else {
		hw.raw(`<button type="submit">`)
		hw.text(data.t(labelKey))
	}
	hw.raw(`</button>`)
}

// htmlWriter keeps the first write error so component bodies stay linear.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (hw *htmlWriter) Write(p []byte) (int, error) {
	if hw.err != nil {
		return 0, hw.err
	}
	n, err := hw.w.Write(p)
	hw.err = err
	return n, err
}

func (hw *htmlWriter) raw(s string) {
	_, _ = io.WriteString(hw, s)
}

func (hw *htmlWriter) text(s string) {
	hw.raw(templ.EscapeString(s))
}
