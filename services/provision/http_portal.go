package provision

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"autovolume-go/errcode"
	"autovolume-go/services/config"
)

// Probe paths used by phones and laptops to detect a captive portal.
var captiveProbes = []string{
	"/generate_204",
	"/gen_204",
	"/hotspot-detect.html",
	"/library/test/success.html",
	"/connecttest.txt",
	"/ncsi.txt",
	"/redirect",
	"/fwlink",
}

// HTTPPortal serves the setup form on the soft access point.
type HTTPPortal struct {
	Listen string
	Log    *slog.Logger
	// ReplyWait bounds how long a POST waits for the session's verdict.
	ReplyWait time.Duration

	mu     sync.Mutex
	srv    *http.Server
	ln     net.Listener
	subs   chan *Submission
	nonce  string
	apName string
}

func NewHTTPPortal(listen string, log *slog.Logger) *HTTPPortal {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPPortal{Listen: listen, Log: log.With("svc", "portal"), ReplyWait: 10 * time.Second}
}

func (p *HTTPPortal) Open(ctx context.Context, apName, nonce string) (<-chan *Submission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.srv != nil {
		return nil, errcode.Busy
	}
	ln, err := net.Listen("tcp", p.Listen)
	if err != nil {
		return nil, err
	}
	p.ln = ln
	p.subs = make(chan *Submission)
	p.nonce = nonce
	p.apName = apName
	p.srv = &http.Server{
		Handler:           p.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := p.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.Log.Warn("portal serve", "err", err)
		}
	}()
	p.Log.Info("portal listening", "addr", ln.Addr().String())
	return p.subs, nil
}

// Addr is the bound address while open.
func (p *HTTPPortal) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return ""
	}
	return p.ln.Addr().String()
}

func (p *HTTPPortal) Close() error {
	p.mu.Lock()
	srv := p.srv
	p.srv, p.ln, p.subs = nil, nil, nil
	p.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Handler is exposed for tests.
func (p *HTTPPortal) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, path := range captiveProbes {
		mux.HandleFunc(path, p.redirectHome)
	}
	mux.HandleFunc("/save", p.save)
	mux.HandleFunc("/", p.index)
	return mux
}

func (p *HTTPPortal) state() (chan *Submission, string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs, p.nonce, p.apName
}

// homeURL points at the address the request arrived on, so probes sent to
// foreign hostnames land on the form.
func homeURL(r *http.Request) string {
	if a, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		return "http://" + a.String() + "/"
	}
	return "/"
}

func (p *HTTPPortal) redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, homeURL(r), http.StatusFound)
}

func (p *HTTPPortal) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		p.redirectHome(w, r)
		return
	}
	_, nonce, ap := p.state()
	p.render(w, http.StatusOK, formData{AP: ap, Nonce: nonce, MaxLen: config.AccountIDMaxLen})
}

func (p *HTTPPortal) save(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	subs, nonce, ap := p.state()
	if subs == nil {
		http.Error(w, "setup closed", http.StatusServiceUnavailable)
		return
	}
	sub := NewSubmission(r.PostFormValue("nonce"), r.PostFormValue("ssid"),
		r.PostFormValue("pass"), r.PostFormValue("account"))

	select {
	case subs <- sub:
	case <-r.Context().Done():
		return
	case <-time.After(p.ReplyWait):
		http.Error(w, "setup busy", http.StatusServiceUnavailable)
		return
	}

	var rep Reply
	select {
	case rep = <-sub.Reply():
	case <-r.Context().Done():
		return
	case <-time.After(p.ReplyWait):
		http.Error(w, "no answer from device", http.StatusGatewayTimeout)
		return
	}

	if rep.OK() {
		p.render(w, http.StatusOK, formData{AP: ap, Done: true, Msg: rep.Msg})
		return
	}
	if rep.Code == errcode.InvalidAccountID {
		// The session tears the access point down and starts over; this
		// form's nonce is already stale.
		p.render(w, http.StatusBadRequest, formData{AP: ap, Restarting: true, Msg: rep.Msg, Code: string(rep.Code)})
		return
	}
	p.render(w, http.StatusBadRequest, formData{
		AP: ap, Nonce: nonce, MaxLen: config.AccountIDMaxLen,
		Msg: rep.Msg, Code: string(rep.Code),
		SSID: sub.SSID, Account: sub.AccountID,
	})
}

type formData struct {
	AP      string
	Nonce   string
	MaxLen  int
	Msg     string
	Code    string
	SSID    string
	Account string
	Done    bool
	// Restarting replaces the form while setup starts over.
	Restarting bool
}

func (p *HTTPPortal) render(w http.ResponseWriter, status int, d formData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := formTmpl.Execute(w, d); err != nil {
		p.Log.Debug("render", "err", err)
	}
}

var formTmpl = template.Must(template.New("form").Parse(`<!doctype html>
<html><head><meta name="viewport" content="width=device-width,initial-scale=1">
<title>Auto-Volume setup</title></head><body>
<h1>Auto-Volume</h1>
<p>{{.AP}}</p>
{{if .Done}}
<p>{{.Msg}}. You can close this page.</p>
{{else if .Restarting}}
<p class="err" data-code="{{.Code}}">{{.Msg}}</p>
<p>Setup is restarting. Reconnect to {{.AP}} and this page will open again.</p>
{{else}}
{{if .Msg}}<p class="err" data-code="{{.Code}}">{{.Msg}}</p>{{end}}
<form method="POST" action="/save">
<input type="hidden" name="nonce" value="{{.Nonce}}">
<label>WiFi network <input name="ssid" value="{{.SSID}}" required></label><br>
<label>Password <input name="pass" type="password"></label><br>
<label>Soundtrack Account ID <input name="account" value="{{.Account}}" maxlength="{{.MaxLen}}" required></label><br>
<button type="submit">Save</button>
</form>
{{end}}
</body></html>
`))
