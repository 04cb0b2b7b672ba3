package filtering

import (
	"html/template"
	"net/http"
)

// AdminHandler serves the administrative blacklist view: GET renders the
// current blacklist as checkboxes, POST unblocks every checked address and
// clears its counters. Grounded on the teacher's small dependency-free
// serveManagement mux; rendered with html/template since no example in the
// pack reaches for a template library beyond stdlib for a page this
// simple.
type AdminHandler struct {
	blacklist *Blacklist
	counter   *Counter
	brCounter *Counter
	observe   bool
}

// NewAdminHandler builds an AdminHandler over the shared blacklist/counters.
func NewAdminHandler(bl *Blacklist, counter, brCounter *Counter, observe bool) *AdminHandler {
	return &AdminHandler{blacklist: bl, counter: counter, brCounter: brCounter, observe: observe}
}

var adminTemplate = template.Must(template.New("admin").Parse(`<!DOCTYPE html>
<html>
<head><title>keyexchange blacklist</title></head>
<body>
<h1>Blacklisted addresses{{if .Observe}} (observe mode){{end}}</h1>
<form method="POST">
<table>
{{range .Addrs}}<tr><td><input type="checkbox" name="{{.}}" value="on"></td><td>{{.}}</td></tr>
{{else}}<tr><td colspan="2">no blacklisted addresses</td></tr>
{{end}}
</table>
<input type="submit" value="Unblock checked">
</form>
</body>
</html>
`))

type adminPageData struct {
	Addrs   []string
	Observe bool
}

func (h *AdminHandler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		h.serveList(rw, req)
	case http.MethodPost:
		h.handleUnblock(rw, req)
	default:
		rw.Header().Set("Allow", "GET, POST")
		http.Error(rw, "405 method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AdminHandler) serveList(rw http.ResponseWriter, req *http.Request) {
	addrs, err := h.blacklist.Members(req.Context())
	if err != nil {
		http.Error(rw, "503 service unavailable", http.StatusServiceUnavailable)
		return
	}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = adminTemplate.Execute(rw, adminPageData{Addrs: addrs, Observe: h.observe})
}

// handleUnblock removes every address whose checkbox was submitted as "on"
// and clears its counters. Unblocking an address that's already absent is
// a no-op, not an error.
func (h *AdminHandler) handleUnblock(rw http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		http.Error(rw, "400 bad request", http.StatusBadRequest)
		return
	}

	ctx := req.Context()
	for addr, values := range req.PostForm {
		if len(values) == 0 || values[0] != "on" {
			continue
		}
		_ = h.blacklist.Remove(ctx, addr)
		_ = h.counter.Reset(ctx, addr)
		_ = h.brCounter.Reset(ctx, addr)
	}

	h.serveList(rw, req)
}
