// Package htmx renders either a page fragment or the full page depending on
// whether the request came from HTMX.
package htmx

import (
	"net/http"
	"strings"

	"github.com/a-h/templ"
)

// ResponseHeaderKey is the HTMX request header used to detect partial updates.
const ResponseHeaderKey = "HX-Request"

// IsHTMXRequest reports whether the request was initiated by HTMX.
func IsHTMXRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	return strings.EqualFold(r.Header.Get(ResponseHeaderKey), "true")
}

// RenderPage renders fragment for HTMX requests and full for everything else.
// If one of them is nil the other is used for both paths. A zero status means
// 200.
func RenderPage(w http.ResponseWriter, r *http.Request, fragment, full templ.Component, status int) {
	if status == 0 {
		status = http.StatusOK
	}
	target := full
	if IsHTMXRequest(r) && fragment != nil {
		target = fragment
	}
	if target == nil {
		target = fragment
	}
	if target == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Add("Vary", ResponseHeaderKey)
	templ.Handler(target, templ.WithStatus(status)).ServeHTTP(w, r)
}
